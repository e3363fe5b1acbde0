package logfields

import "go.uber.org/zap"

func EventProvider(val string) zap.Field {
	return zap.String("event_provider", val)
}

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func Action(val string) zap.Field {
	return zap.String("action", val)
}

func Rule(val string) zap.Field {
	return zap.String("rule_name", val)
}
