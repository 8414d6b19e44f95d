// Package tracelog is the telemetry pipeline of the load harness.
//
// Producer goroutines record trace events and latency samples into
// their own double buffer without taking a lock or touching I/O. A
// single drain goroutine owned by the Logger collects filled buffers
// and replays them into a Sink, the only writer of the trace output.
//
// Data flow:
//
//	Producer.Append → swap slot (atomic exchange) → drain poll → collect standby half → Sink
//
// Lifecycle:
//
//	l, err := tracelog.New(tracelog.Config{Output: w})
//	p, err := l.Register("worker-0")
//	start := l.Now()
//	// ... measured work ...
//	p.LogAsync("sample", id, start, l.Now()-start)
//	latencies := l.GetLatenciesBlocking(expected)
//	l.RestartLatencyRecording()
//	l.Unregister(p)
//	err = l.Close()
//
// Entries from one producer reach the sink in append order. Entries
// from different producers interleave in no particular order. Close
// drains every registered producer before it returns, so nothing
// appended before Close is lost.
//
// Trace records are JSON objects, one per line by default:
//
//	{"name":"sample","ph":"X","pid":0,"tid":0,"ts":1200,"dur":300,"args":{}}
//	{"name":"sample","cat":"default","ph":"b","id":7,"pid":0,"tid":0,"ts":1200,"args":{}}
//	{"name":"sample","cat":"default","ph":"e","id":7,"pid":0,"tid":0,"ts":1500}
//
// ts and dur are nanoseconds since the Logger's origin time. pid is
// always 0; tid is 0 unless Config.ThreadIDs is set.
package tracelog
