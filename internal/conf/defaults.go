// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values on the given viper instance.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("main.name", "ovation-notify")
	v.SetDefault("main.log.enabled", true)
	v.SetDefault("main.log.path", "logs/ovation-notify.log")
	v.SetDefault("main.log.maxsize", 100)
	v.SetDefault("main.log.maxbackups", 3)
	v.SetDefault("main.log.maxage", 28)

	v.SetDefault("server.baseurl", "http://localhost:8585")
	v.SetDefault("server.streampath", "/api/v1/notifications/stream")
	v.SetDefault("server.pollpath", "/api/v1/notifications")
	v.SetDefault("server.refreshpath", "/api/v1/session/refresh")

	v.SetDefault("client.pollinterval", 30*time.Second)
	v.SetDefault("client.sessioncheckinterval", 60*time.Second)
	v.SetDefault("client.sessionexpirythreshold", 5*time.Minute)
	v.SetDefault("client.requesttimeout", 10*time.Second)
	v.SetDefault("client.maxnotifications", 1000)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "ovation-notify.db")

	v.SetDefault("forward.enabled", false)
	v.SetDefault("forward.urls", []string{})

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.debug", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "localhost:9090")

	v.SetDefault("devserver.listen", "localhost:8585")
	v.SetDefault("devserver.sessionttl", 30*time.Minute)
}

// defaultSettings returns a Settings populated with defaults only.
func defaultSettings() *Settings {
	v := viper.New()
	setDefaultConfig(v)
	s := &Settings{}
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(s)
	return s
}
