package memory

import (
	"strings"
	"time"

	"github.com/rcliao/memoria/internal/model"
)

// normalize validates a candidate against its schema and returns cleaned
// fields: values trimmed, list items one per line, sensitivity lowercased.
func normalize(sc *model.Schema, c model.Candidate, now time.Time) (map[string]string, error) {
	const op = "validate"
	if c.Store != "" && c.Store != sc.Store {
		return nil, errorf(op, KindValidation, sc.Store, "candidate targets %s", c.Store)
	}

	out := make(map[string]string, len(sc.Fields))
	for name, v := range c.Fields {
		f, ok := sc.Field(name)
		if !ok {
			return nil, errorf(op, KindValidation, sc.Store, "unknown field %q", name)
		}
		if f.Kind == model.KindList {
			v = model.JoinList(model.SplitList(v))
		} else {
			v = strings.TrimSpace(v)
		}
		if v != "" {
			out[name] = v
		}
	}

	switch sc.Store {
	case model.StoreEpisodic:
		if ts, ok := out["occurred_at"]; ok {
			t, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, errorf(op, KindValidation, sc.Store, "occurred_at %q is not RFC 3339", ts)
			}
			out["occurred_at"] = t.UTC().Format(time.RFC3339)
		} else {
			out["occurred_at"] = now.Format(time.RFC3339)
		}
	case model.StoreVault:
		if s, ok := out["sensitivity"]; ok {
			s = strings.ToLower(s)
			if _, valid := model.ValidSensitivities[s]; !valid {
				return nil, errorf(op, KindValidation, sc.Store, "sensitivity %q must be low, medium or high", s)
			}
			out["sensitivity"] = s
		}
	}

	for _, f := range sc.Fields {
		if f.Required && out[f.Name] == "" {
			return nil, errorf(op, KindValidation, sc.Store, "missing required field %q", f.Name)
		}
	}
	return out, nil
}
