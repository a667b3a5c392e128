// Package engine defines the error taxonomy shared by ecsroll packages.
//
// Every failure that crosses a package boundary is, or wraps, an
// *EngineError carrying one of four classes:
//
//   - transient: a network failure or server error that may succeed later
//   - throttled: the provider asked the caller to slow down
//   - permanent: the provider rejected a well-formed request
//   - configuration: the environment does not match what ecsroll expects,
//     such as a missing cluster or several Auto Scaling groups with its name
//
// The retry policy in pkg/awsclient retries only transient and throttled
// errors. Configuration errors are reported to the operator as such and are
// never folded into an unhealthy verdict.
//
// # Usage
//
//	err := engine.NewConfigurationError("cluster web not found", nil).
//	    WithResource("web").
//	    WithCode(engine.ErrCodeClusterNotFound)
//
//	if engine.IsConfiguration(err) {
//	    // fix the environment, do not retry
//	}
package engine
