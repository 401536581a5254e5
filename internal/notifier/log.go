package notifier

import "go.uber.org/zap"

func logErrField(err error) zap.Field {
	return zap.Error(err)
}
