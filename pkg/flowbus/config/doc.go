/*
Package config loads flowbus configuration.

Config wraps a map[string]any and provides typed accessors that return a
default when a key is missing or has the wrong type. Keys may be dotted
paths into nested sections:

	cfg, err := config.FromFile("flowbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	timeout := cfg.Duration("correlation.timeout", 30*time.Second)

Settings is the typed form, decoded with mapstructure over DefaultSettings:

	correlation:
	  timeout: 30s
	  fail_on_timeout: false
	queues:
	  store_path: ./queues.db
	  default:
	    capacity: 100
	poll:
	  schedule: "@every 5s"
	retry:
	  max_attempts: 3
	  interval: 2s
	transaction:
	  action: BEGIN_OR_JOIN

	settings, err := config.LoadSettings("flowbus.yaml")

Durations accept strings ("1h30m") or numbers of seconds. LoadSettings
expands ${NAME} references from the environment first, so a file can say
store_path: ${DATA_DIR}/queues.db.
*/
package config
