package builder

import (
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
)

// Normalize completes an event that was decoded from external input rather
// than built: it fills timestamp, url and path when missing and, for custom
// and stage events, moves top-level identifiers into the mirrored properties
// the ingest API expects.
func Normalize(e model.Event) model.Event {
	out := e.Clone()

	if out.Timestamp == 0 {
		out.Timestamp = nowMillis()
	}
	if out.Path == "" {
		out.Path = "/"
	}

	switch out.Type {
	case model.EventTypeBilling:
		if out.URL == "" {
			out.URL = serverURL(out.Domain)
		}
		return out
	case model.EventTypeCustom, model.EventTypeStage:
		ids := identifiers{email: out.Email, userID: out.UserID, fingerprint: out.Fingerprint}
		if ids == (identifiers{}) {
			ids = identifiersFromProperties(out.Properties)
		} else {
			if out.Properties == nil {
				out.Properties = make(map[string]any, 3)
			}
			ids.mirror(out.Properties)
		}
		out.Email, out.UserID, out.Fingerprint = "", "", ""
		if out.URL == "" {
			out.URL = ids.url()
		}
	default:
		if out.URL == "" {
			ids := identifiers{email: out.Email, userID: out.UserID, fingerprint: out.Fingerprint}
			out.URL = ids.url()
		}
	}
	return out
}

func identifiersFromProperties(props map[string]any) identifiers {
	str := func(key string) string {
		v, _ := props[key].(string)
		return v
	}
	return identifiers{
		email:       str("__email"),
		userID:      str("__userId"),
		fingerprint: str("__fingerprint"),
	}
}
