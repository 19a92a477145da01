package rules

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/sigmacore/sigmacore/internal/condition"
	"github.com/sigmacore/sigmacore/internal/correlation"
	"github.com/sigmacore/sigmacore/internal/event"
	"github.com/sigmacore/sigmacore/internal/selection"
)

// Failure pairs a source path with the read or parse error encountered
// there, for the best-effort directory-load report (spec.md §7).
// collection.FromDirectory also reports rules that parsed but could not
// be added, with the rule id in Path.
type Failure struct {
	Path string
	Err  error
}

// LoadResult is the outcome of loading a directory of rule files: every
// rule that parsed cleanly, plus one Failure per file that didn't.
type LoadResult struct {
	Rules    []*Rule
	Failures []Failure
}

// LoadDirectory recursively parses every .yml/.yaml file under root. A
// malformed file is recorded as a Failure and does not abort the walk
// (spec.md §7: "directory load aggregates per-file parse errors and
// continues").
func LoadDirectory(root string) (LoadResult, error) {
	var result LoadResult
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			result.Failures = append(result.Failures, Failure{Path: path, Err: readErr})
			return nil
		}
		parsed, parseErr := ParseYAML(string(data))
		if parseErr != nil {
			result.Failures = append(result.Failures, Failure{Path: path, Err: parseErr})
			return nil
		}
		result.Rules = append(result.Rules, parsed...)
		return nil
	})
	return result, err
}

// ParseYAML parses every document in source (separated by "---") into a
// Rule. The first malformed document aborts the whole call — callers
// loading many files attribute that failure to the file, per
// LoadDirectory.
func ParseYAML(source string) ([]*Rule, error) {
	dec := yaml.NewDecoder(strings.NewReader(source))
	var out []*Rule
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, oops.Code("parse_error").Wrapf(err, "decoding YAML document")
		}
		if len(doc.Content) == 0 {
			continue // blank document between "---" separators
		}
		rule, err := parseDocument(doc.Content[0])
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseDocument(m *yaml.Node) (*Rule, error) {
	if m.Kind != yaml.MappingNode {
		return nil, errMalformedDocument()
	}

	r := &Rule{Extra: make(map[string]any)}
	var logSourceNode, detectionNode, correlationNode *yaml.Node

	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		val := m.Content[i+1]
		switch key {
		case "title":
			r.Title = val.Value
		case "id":
			r.ID = val.Value
		case "name":
			r.Name = val.Value
		case "description":
			r.Description = val.Value
		case "level":
			r.Level = val.Value
		case "tags":
			var tags []string
			if err := val.Decode(&tags); err != nil {
				return nil, oops.Code("parse_error").Wrapf(err, "decoding tags")
			}
			r.Tags = tags
		case "logsource":
			logSourceNode = val
		case "detection":
			detectionNode = val
		case "correlation":
			correlationNode = val
		default:
			var v any
			if err := val.Decode(&v); err != nil {
				return nil, oops.Code("parse_error").Wrapf(err, "decoding field %q", key)
			}
			r.Extra[key] = v
		}
	}

	if r.Title == "" {
		return nil, errRequired("title")
	}
	if r.ID == "" {
		return nil, errRequired("id")
	}

	switch {
	case detectionNode != nil && correlationNode != nil:
		return nil, errBothBodies(r.ID)
	case detectionNode != nil:
		body, err := parseDetectionBody(detectionNode, logSourceNode)
		if err != nil {
			return nil, oops.Code("parse_error").With("id", r.ID).Wrap(err)
		}
		r.Body = body
	case correlationNode != nil:
		body, err := parseCorrelationBody(correlationNode)
		if err != nil {
			return nil, oops.Code("parse_error").With("id", r.ID).Wrap(err)
		}
		r.Body = body
	default:
		return nil, errMissingBody(r.ID)
	}

	return r, nil
}

func parseLogSource(node *yaml.Node) (event.LogSource, error) {
	var ls event.LogSource
	if node == nil {
		return ls, nil
	}
	if node.Kind != yaml.MappingNode {
		return ls, fmt.Errorf("logsource must be a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1].Value
		switch key {
		case "category":
			ls.Category = val
		case "product":
			ls.Product = val
		case "service":
			ls.Service = val
		}
	}
	return ls, nil
}

func parseDetectionBody(node, logSourceNode *yaml.Node) (*DetectionBody, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("detection must be a mapping")
	}
	ls, err := parseLogSource(logSourceNode)
	if err != nil {
		return nil, err
	}

	body := &DetectionBody{
		LogSource:  ls,
		Selections: make(map[string]*selection.Selection),
	}
	var conditionStr string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		if key == "condition" {
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("condition must be a string")
			}
			conditionStr = val.Value
			continue
		}
		sel, err := selection.New(val)
		if err != nil {
			return nil, oops.Code("parse_error").With("selection", key).Wrap(err)
		}
		body.Selections[key] = sel
		body.SelectionNames = append(body.SelectionNames, key)
	}
	if conditionStr == "" {
		return nil, errRequired("condition")
	}
	cond, err := condition.Parse(conditionStr)
	if err != nil {
		return nil, err
	}
	body.Condition = cond
	return body, nil
}

func parseCorrelationBody(node *yaml.Node) (*correlation.Body, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("correlation must be a mapping")
	}

	var typ, timespanRaw string
	var refs, groupBy []string
	var condNode *yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "type":
			typ = val.Value
		case "rules":
			if err := val.Decode(&refs); err != nil {
				return nil, oops.Code("parse_error").Wrapf(err, "decoding correlation.rules")
			}
		case "group-by", "group_by":
			if err := val.Decode(&groupBy); err != nil {
				return nil, oops.Code("parse_error").Wrapf(err, "decoding correlation.group-by")
			}
		case "timespan":
			timespanRaw = val.Value
		case "condition":
			condNode = val
		}
	}

	kind, err := parseCorrelationKind(typ)
	if err != nil {
		return nil, err
	}
	timespan, err := parseTimespan(timespanRaw)
	if err != nil {
		return nil, err
	}

	var field string
	var cond correlation.CondExpr
	if condNode != nil {
		if condNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("correlation.condition must be a mapping")
		}
		for i := 0; i+1 < len(condNode.Content); i += 2 {
			key := condNode.Content[i].Value
			val := condNode.Content[i+1]
			if key == "field" {
				field = val.Value
				continue
			}
			n, err := strconv.ParseInt(val.Value, 10, 64)
			if err != nil {
				return nil, errInvalidCondExpr(key, val.Value)
			}
			switch key {
			case "gt":
				cond.Gt = &n
			case "gte":
				cond.Gte = &n
			case "lt":
				cond.Lt = &n
			case "lte":
				cond.Lte = &n
			case "eq":
				cond.Eq = &n
			}
		}
	}

	return &correlation.Body{
		Type:      kind,
		Field:     field,
		Condition: cond,
		Rules:     refs,
		Timespan:  timespan,
		GroupBy:   groupBy,
	}, nil
}

func parseCorrelationKind(typ string) (correlation.Kind, error) {
	switch correlation.Kind(typ) {
	case correlation.EventCount, correlation.ValueCount, correlation.Temporal, correlation.TemporalOrdered:
		return correlation.Kind(typ), nil
	default:
		return "", errUnknownCorrelationType(typ)
	}
}

// parseTimespan parses a "<number><unit>" duration string where unit is
// one of s|m|h|d (spec.md §6).
func parseTimespan(raw string) (time.Duration, error) {
	if len(raw) < 2 {
		return 0, errInvalidTimespan(raw)
	}
	unit := raw[len(raw)-1]
	n, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
	if err != nil {
		return 0, errInvalidTimespan(raw)
	}
	var base time.Duration
	switch unit {
	case 's':
		base = time.Second
	case 'm':
		base = time.Minute
	case 'h':
		base = time.Hour
	case 'd':
		base = 24 * time.Hour
	default:
		return 0, errInvalidTimespan(raw)
	}
	return time.Duration(n * float64(base)), nil
}
