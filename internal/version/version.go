// Package version хранит сведения о сборке drops-service. Значения подставляются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/drops/internal/version.version=v0.3.0 \
//	  -X github.com/vladislavdragonenkov/drops/internal/version.commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion попадает в /healthz и в атрибут service.version трейсов.
func GetVersion() string { return version }

// Fields: сведения о сборке для стартовой записи лога.
func Fields() log.Fields {
	return log.Fields{
		"version":    version,
		"commit":     commit,
		"build_date": date,
	}
}

func String() string {
	return fmt.Sprintf("drops-service %s (commit %s, built %s)", version, commit, date)
}
