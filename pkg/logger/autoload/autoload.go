package autoload

import (
	configx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/config"
	logx "github.com/tanpawarit/Counsel-Expert-Council-Engine/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
