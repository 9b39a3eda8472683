// Package config loads broker settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already set in the environment win over it. All variables carry the
// EVENTBROKER_ prefix:
//
//	EVENTBROKER_HOST             listen host (localhost)
//	EVENTBROKER_PORT             listen port (9898)
//	EVENTBROKER_PORT_FORWARDED   overrides PORT when set
//	EVENTBROKER_RECEIVE_TIMEOUT  per-message receive timeout (5s)
//	EVENTBROKER_TASK_TIMEOUT     handler timeout (180s)
//	EVENTBROKER_WORKERS          worker pool size (80)
//	EVENTBROKER_QUEUE_SIZE       pending task bound (4096)
//	EVENTBROKER_PUSH_WAIT        push wait for a ready client (5s)
//	EVENTBROKER_PING_INTERVAL    heartbeat interval (5s)
//	EVENTBROKER_TOKEN_CAPACITY   credential map capacity (1000)
//	EVENTBROKER_TOKEN_MAX_AGE    credential max age (600s)
//	EVENTBROKER_REQUIRE_TOKENS   require access tokens on events (false)
//	EVENTBROKER_REDIS_URL        validate tokens against Redis
//	EVENTBROKER_RATE_LIMIT       inbound messages per second per connection (0, off)
//	EVENTBROKER_RATE_BURST       inbound burst per connection (20)
//	EVENTBROKER_ALLOWED_ORIGINS  comma-separated Origin allow list
//	EVENTBROKER_METRICS          expose /metrics (true)
//	EVENTBROKER_LOG_LEVEL        debug, info, warn or error (info)
//	EVENTBROKER_LOG_FORMAT       text or json (text)
//	EVENTBROKER_TRACE_EXPORTER   none, stdout or otlp-http (none)
//	EVENTBROKER_TRACE_ENDPOINT   OTLP endpoint (localhost:4318)
//
// Durations accept Go syntax ("5s", "3m") or a plain number of seconds.
package config
