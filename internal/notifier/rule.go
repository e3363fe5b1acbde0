package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/itchyny/gojq"

	"github.com/simplesurance/chatnotifier/internal/cfg"
	"github.com/simplesurance/chatnotifier/internal/event"
	"github.com/simplesurance/chatnotifier/internal/notifier/action"
	"github.com/simplesurance/chatnotifier/internal/notifier/action/emailsonpush"
	"github.com/simplesurance/chatnotifier/internal/notifier/action/httprequest"
	"github.com/simplesurance/chatnotifier/internal/notifier/action/slack"
	"github.com/simplesurance/chatnotifier/internal/stringutils"
)

// DefFilterQuery is used for rules that do not define a filter query.
const DefFilterQuery = "true"

// ActionConfig is an interface for an action that is executed as part of a Rule.
type ActionConfig interface {
	// Render runs renderFunc for all configuration options of the
	// action that are templated and returns a runnable action.
	// It returns action.ErrSkipped if the action does not apply to the
	// event.
	Render(event action.Event, renderFunc func(string) (string, error)) (action.Runner, error)
	// String returns a short representation of the ActionConfig
	String() string
	// String returns a formatted detailed description.
	DetailedString() string
}

// Rule defines the condition that must apply for an event and the actions that
// are run when conditions match.
type Rule struct {
	name        string
	kinds       map[event.Kind]struct{}
	filterQuery *gojq.Query
	actions     []ActionConfig
}

// NewRule creates a Rule. If kinds is empty, the rule applies to events of
// all kinds.
func NewRule(name string, kinds []event.Kind, jqQuery string, actions []ActionConfig) (*Rule, error) {
	if jqQuery == "" {
		jqQuery = DefFilterQuery
	}

	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, err
	}

	kindSet := make(map[event.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		kindSet[k] = struct{}{}
	}

	return &Rule{
		name:        name,
		kinds:       kindSet,
		filterQuery: query,
		actions:     actions,
	}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errors []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errors
		}

		if err, isErr := res.(error); isErr {
			errors = append(errors, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Match returns Match if the kind of the event is one of the rule's kinds and
// the filter-query of the rule evaluates to true for the JSON payload of
// the event.
func (r *Rule) Match(ctx context.Context, event *Event) (MatchResult, error) {
	var evUn any

	if len(r.kinds) > 0 {
		if _, exists := r.kinds[event.Payload.Kind()]; !exists {
			return EventKindMismatch, nil
		}
	}

	if len(event.JSON) == 0 {
		return MatchResultUndefined, errors.New("json field of event is empty")
	}

	err := json.Unmarshal(event.JSON, &evUn)
	if err != nil {
		return MatchResultUndefined, fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errors := goJQIterToSlice(r.filterQuery.RunWithContext(ctx, evUn))
	if len(errors) != 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned errors, query: %q, errors: %s", r.filterQuery.String(), errString(errors))
	}

	if len(result) == 0 {
		return MatchResultUndefined, fmt.Errorf("json query returned 0 results, expected 1, query: %q", r.filterQuery.String())
	}

	if len(result) > 1 {
		return MatchResultUndefined, fmt.Errorf("json query returned multiple results, expected 1, query: %q, result: '%+v'", r.filterQuery.String(), result)
	}

	switch val := result[0].(type) {
	case bool:
		if val {
			return Match, nil
		}

		return RuleMismatch, nil

	default:
		return MatchResultUndefined, fmt.Errorf(
			"json query returned non-bool result: %+v (%T), query: %q",
			val, val, r.filterQuery.String(),
		)
	}
}

var templateFuncs = template.FuncMap{
	"queryescape": url.QueryEscape,
	"jsonescape":  jsonEscape,
}

// jsonEscape returns s as content of a JSON string, without the enclosing
// quotes.
func jsonEscape(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(b[1 : len(b)-1]), nil
}

func renderFunc(event *Event) func(in string) (string, error) {
	return func(text string) (string, error) {
		templ, err := template.New("action").Funcs(templateFuncs).Parse(text)
		if err != nil {
			return "", err
		}

		var out bytes.Buffer

		templateContext := struct{ Event *Event }{
			Event: event,
		}

		err = templ.Execute(&out, &templateContext)
		if err != nil {
			return "", err
		}

		return out.String(), nil
	}
}

// TemplateActions renders the actions of the rule for the specific event.
// Actions that do not apply to the event are omitted.
func (r *Rule) TemplateActions(ctx context.Context, event *Event) ([]action.Runner, error) {
	result := make([]action.Runner, 0, len(r.actions))

	for _, actionDef := range r.actions {
		runner, err := actionDef.Render(event, renderFunc(event))
		if err != nil {
			if errors.Is(err, action.ErrSkipped) {
				continue
			}

			return nil, fmt.Errorf("rendering action %q failed: %w", actionDef, err)
		}

		result = append(result, runner)
	}

	return result, nil
}

// Dependencies are shared resources that actions are created with.
type Dependencies struct {
	// MailQueue is the queue emails_on_push actions write to. It is nil
	// when the mail queue is not configured.
	MailQueue emailsonpush.Queue
}

// RulesFromCfg instantiates Rules from the configuration.
func RulesFromCfg(config *cfg.Config, deps *Dependencies) (Rules, error) {
	result := make([]*Rule, 0, len(config.Rules))

	for _, cfgRule := range config.Rules {
		var actions []ActionConfig

		if cfgRule.Name == "" {
			return nil, errors.New("rule: missing field: 'name'")
		}

		if len(cfgRule.Actions) == 0 {
			return nil, fmt.Errorf("rule %s: missing array field: 'action'", cfgRule.Name)
		}

		kinds := make([]event.Kind, 0, len(cfgRule.EventKinds))
		for _, k := range cfgRule.EventKinds {
			kind, err := event.ParseKind(k)
			if err != nil {
				return nil, fmt.Errorf("rule %s: event_kinds: %w", cfgRule.Name, err)
			}

			kinds = append(kinds, kind)
		}

		for _, cfgAction := range cfgRule.Actions {
			val, ok := cfgAction["action"]
			if !ok {
				return nil, fmt.Errorf("rule %s: action: missing string field 'action'", cfgRule.Name)
			}

			actionName, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("rule %s: action: action field is not a string field", cfgRule.Name)
			}

			switch strings.ToLower(actionName) {
			case "httprequest":
				cfg, err := httprequest.NewConfigFromMap(cfgAction)
				if err != nil {
					return nil, fmt.Errorf(
						"rule %s: action %s: parsing failed: %w",
						cfgRule.Name, actionName, err,
					)
				}

				actions = append(actions, cfg)

			case "slack":
				cfg, err := slack.NewConfigFromMap(cfgAction)
				if err != nil {
					return nil, fmt.Errorf(
						"rule %s: action %s: parsing failed: %w",
						cfgRule.Name, actionName, err,
					)
				}

				actions = append(actions, cfg)

			case "emails_on_push":
				if deps == nil || deps.MailQueue == nil {
					return nil, fmt.Errorf(
						"rule %s: action %s: mail_queue is not configured",
						cfgRule.Name, actionName,
					)
				}

				cfg, err := emailsonpush.NewConfigFromMap(deps.MailQueue, cfgAction)
				if err != nil {
					return nil, fmt.Errorf(
						"rule %s: action %s: parsing failed: %w",
						cfgRule.Name, actionName, err,
					)
				}

				actions = append(actions, cfg)

			default:
				return nil, fmt.Errorf("rule %s: unsupported action: %q", cfgRule.Name, actionName)
			}
		}

		rule, err := NewRule(cfgRule.Name, kinds, cfgRule.FilterQuery, actions)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parsing filter_query failed: %w", cfgRule.Name, err)
		}

		result = append(result, rule)
	}

	return result, nil
}

func (r *Rule) String() string {
	return r.name
}

func (r *Rule) kindsString() string {
	if len(r.kinds) == 0 {
		return "all"
	}

	// iterate over the ordered kind list for a stable output
	var kinds []string
	for _, k := range event.Kinds() {
		if _, exists := r.kinds[k]; exists {
			kinds = append(kinds, string(k))
		}
	}

	return strings.Join(kinds, ", ")
}

func (r *Rule) DetailedString() string {
	var result strings.Builder

	result.WriteString(fmt.Sprintf(
		"Name: %s\nEventKinds: %s\nFilterQuery: %s\n",
		r.name, r.kindsString(), r.filterQuery,
	))

	for i, action := range r.actions {
		if i == 0 {
			result.WriteString("Actions:\n")
		}

		result.WriteString(stringutils.IndentString(action.DetailedString(), "  "))
	}

	return result.String()
}
