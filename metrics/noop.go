package metrics

// NoopMetricer ... drop-in Metricer for tests and disabled-metrics runs
type NoopMetricer struct{}

var NoopMetrics Metricer = new(NoopMetricer)

func (*NoopMetricer) RecordInfo(string) {}
func (*NoopMetricer) RecordUp()         {}

func (*NoopMetricer) RecordRPCServerRequest(string) func(status string) {
	return func(string) {}
}

func (*NoopMetricer) RecordGeofenceCheck(string, string) {}
func (*NoopMetricer) RecordSubmission(string, string)    {}
func (*NoopMetricer) RecordSubmissionRetry(string)       {}
func (*NoopMetricer) RecordSyncPush(int, int)            {}
func (*NoopMetricer) RecordVMUR(string)                  {}
func (*NoopMetricer) RecordTamperDetected()              {}
