package logfields

import "go.uber.org/zap"

func DeliveryID(val string) zap.Field {
	return zap.String("gitlab.delivery_id", val)
}

func EventKind(val string) zap.Field {
	return zap.String("gitlab.object_kind", val)
}

func Project(val string) zap.Field {
	return zap.String("gitlab.project", val)
}

func ProjectID(val int64) zap.Field {
	return zap.Int64("gitlab.project_id", val)
}

func Ref(val string) zap.Field {
	return zap.String("git.ref", val)
}

func Commit(val string) zap.Field {
	return zap.String("git.commit", val)
}

func MailJob(val int64) zap.Field {
	return zap.Int64("mail_job_id", val)
}
