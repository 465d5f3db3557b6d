package logging

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Provide(NewLogger)

func NewLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	return l.Sugar(), nil
}
