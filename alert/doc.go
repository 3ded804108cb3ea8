// Package alert delivers per-frame inventory results to the display layer:
// the stock table of the latest record and the ordered list of items below
// their configured minimum.
//
// Sinks are composable. LogSink writes structured log lines, MQTTSink
// publishes JSON payloads to a broker, Multi fans a delivery out to several
// sinks and Func adapts a plain function.
package alert
