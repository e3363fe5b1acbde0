package chatmsg

import "github.com/simplesurance/chatnotifier/internal/event"

type field struct {
	name  string
	isSet bool
}

func str(name, val string) field {
	return field{name: name, isSet: val != ""}
}

func num(name string, val int64) field {
	return field{name: name, isSet: val != 0}
}

// requireFields returns a ValidationError for the first field that is not
// set.
func requireFields(kind event.Kind, fields ...field) error {
	for _, f := range fields {
		if !f.isSet {
			return &event.ValidationError{Kind: kind, Field: f.name}
		}
	}

	return nil
}

func metaFields(m *event.Meta) []field {
	return []field{
		str("user.username", m.Actor.String()),
		str("project.name", m.Project.Name),
		str("project.web_url", m.Project.URL),
	}
}
