// Package config loads the cluster configuration file.
//
// The file is YAML, by default cloud-compose/config.yml relative to the
// working directory:
//
//	cluster:
//	  name: web-prod
//	  aws:
//	    region: eu-west-1
//	upgrade:
//	  interval: 10s
//	  state_dir: /var/lib/ecsroll
//	retry:
//	  max_duration: 10s
//	  base_delay: 500ms
//	  max_delay: 2s
//	history:
//	  path: /var/lib/ecsroll/history.db
//	telemetry:
//	  log_level: info
//	  metrics_addr: 127.0.0.1:9100
//
// Only cluster.name is required. AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID
// and AWS_SECRET_ACCESS_KEY override the file. The result is checked with
// validator struct tags.
package config
