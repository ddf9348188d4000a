// Package config provides configuration loading for the provisioner.
//
// Everything comes from the process environment, read once at startup. The
// fleet deploys this service from a compose file that sets the flat WIKI_* /
// WIKIFARM_* / OPENSEARCH_* names, so the variables are bound explicitly
// instead of through a prefix.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ListenAddr      string
	DatabaseURL     string
	RedisURL        string
	DockerHost      string
	DisableRollback bool
	Wikifarm        WikifarmConfig
}

// WikifarmConfig is the snapshot of fleet-level settings rendered into every
// per-wiki ini file and used by the provisioning steps.
type WikifarmConfig struct {
	Dir                 string
	Template            string
	ConfigDir           string
	Instance            string
	WikiHost            string
	DBHost              string
	SharedDBName        string
	OpenSearchUser      string
	OpenSearchPort      string
	OpenSearchTransport string
	OpenSearchPassword  string
	OpenSearchEndpoint  string
	RedisPassword       string
	RedisServer         string
	AWSRegion           string
}

// required maps viper keys to the environment variables that must be present.
var required = map[string]string{
	"database_url":          "DATABASE_URL",
	"wikifarm_instance":     "WIKIFARM_INSTANCE",
	"wiki_host":             "WIKI_HOST",
	"wiki_db_host":          "WIKI_DB_HOST",
	"wiki_shared_db_name":   "WIKI_SHARED_DB_NAME",
	"opensearch_user":       "OPENSEARCH_USER",
	"opensearch_port":       "OPENSEARCH_PORT",
	"opensearch_transport":  "OPENSEARCH_TRANSPORT",
	"opensearch_password":   "OPENSEARCH_PASSWORD",
	"opensearch_endpoint":   "OPENSEARCH_ENDPOINT",
	"redis_password":        "REDIS_PASSWORD",
	"redis_server":          "REDIS_SERVER",
	"wiki_aws_region":       "WIKI_AWS_REGION",
}

var optional = map[string]string{
	"listen_addr":         "LISTEN_ADDR",
	"redis_url":           "REDIS_URL",
	"docker_host":         "DOCKER_HOST",
	"disable_rollback":    "DISABLE_ROLLBACK",
	"wikifarm_dir":        "WIKIFARM_DIR",
	"wikifarm_template":   "WIKIFARM_TEMPLATE",
	"wikifarm_config_dir": "WIKIFARM_CONFIG_DIR",
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	for key, env := range required {
		v.BindEnv(key, env)
	}
	for key, env := range optional {
		v.BindEnv(key, env)
	}

	setDefaults(v)

	for key, env := range required {
		if v.GetString(key) == "" {
			return nil, fmt.Errorf("missing env %s", env)
		}
	}

	cfg := &Config{
		ListenAddr:  v.GetString("listen_addr"),
		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		DockerHost:  v.GetString("docker_host"),
		// Any value, including "0", disables rollback.
		DisableRollback: v.GetString("disable_rollback") != "",
		Wikifarm: WikifarmConfig{
			Dir:                 v.GetString("wikifarm_dir"),
			Template:            v.GetString("wikifarm_template"),
			ConfigDir:           v.GetString("wikifarm_config_dir"),
			Instance:            v.GetString("wikifarm_instance"),
			WikiHost:            v.GetString("wiki_host"),
			DBHost:              v.GetString("wiki_db_host"),
			SharedDBName:        v.GetString("wiki_shared_db_name"),
			OpenSearchUser:      v.GetString("opensearch_user"),
			OpenSearchPort:      v.GetString("opensearch_port"),
			OpenSearchTransport: v.GetString("opensearch_transport"),
			OpenSearchPassword:  v.GetString("opensearch_password"),
			OpenSearchEndpoint:  v.GetString("opensearch_endpoint"),
			RedisPassword:       v.GetString("redis_password"),
			RedisServer:         v.GetString("redis_server"),
			AWSRegion:           v.GetString("wiki_aws_region"),
		},
	}

	return cfg, nil
}

// setDefaults configures default values for optional settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "0.0.0.0:8080")
	v.SetDefault("redis_url", "redis://127.0.0.1:6379")
	v.SetDefault("docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("wikifarm_dir", "/srv/wikis")
	v.SetDefault("wikifarm_template", "/template")
	v.SetDefault("wikifarm_config_dir", "/config")
}
