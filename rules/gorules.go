//go:build ruleguard

// Package gorules holds the ruleguard checks run by golangci-lint's gocritic
// over the notifier code base.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// LoggerSprintf flags formatted log messages; values belong in fields so the
// JSON file output stays queryable.
//
//	log.Info(fmt.Sprintf("connected to %s", url))      // flagged
//	log.Info("connected", logger.String("url", url))   // preferred
func LoggerSprintf(m dsl.Matcher) {
	m.Match(
		`$log.Trace(fmt.Sprintf($*_), $*_)`,
		`$log.Debug(fmt.Sprintf($*_), $*_)`,
		`$log.Info(fmt.Sprintf($*_), $*_)`,
		`$log.Warn(fmt.Sprintf($*_), $*_)`,
		`$log.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m["log"].Type.Implements("github.com/mainthub/notifier/internal/logger.Logger") &&
			!m.File().Name.Matches(`echo\.go$`)).
		Report("use a constant message with logger fields instead of fmt.Sprintf")
}

// UnredactedURL flags URL fields logged without redaction. Channel endpoints,
// backend URLs and push service URLs can carry tokens.
func UnredactedURL(m dsl.Matcher) {
	m.Match(
		`logger.String("url", $u)`,
		`logger.String("broker", $u)`,
		`logger.String("endpoint", $u)`,
	).
		Where(!m["u"].Text.Matches(`RedactURL`)).
		Report("wrap $u with logger.RedactURL before logging").
		Suggest(`logger.String("url", logger.RedactURL($u))`)
}

// ErrorBuilderNotBuilt flags enhanced errors whose builder is discarded
// without Build, which also skips telemetry reporting.
func ErrorBuilderNotBuilt(m dsl.Matcher) {
	m.Match(
		`return errors.New($err).Component($c)`,
		`return errors.New($err).Component($c).Category($cat)`,
		`return errors.Newf($*_).Component($c).Category($cat)`,
	).
		Report("enhanced error is missing .Build()")
}

// WaitGroupGo flags manual Add/Done pairs around a goroutine.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of manual Add/Done").
		Suggest("$wg.Go(func() { $body })")
}

// TestingContext flags background contexts in tests; t.Context is cancelled
// when the test ends and lets goleak catch stragglers.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$fn(context.Background(), $*args)`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead of context.Background()")
}

// StringsSplitIteration flags ranging over strings.Split results.
func StringsSplitIteration(m dsl.Matcher) {
	m.Match(
		`for $_, $part := range strings.Split($s, $sep) { $*body }`,
	).
		Report("use for $part := range strings.SplitSeq($s, $sep)")
}

// DeferredTimeSince flags durations evaluated when the defer is registered.
func DeferredTimeSince(m dsl.Matcher) {
	m.Match(
		`defer $fn(time.Since($start))`,
		`defer $fn($*args, time.Since($start))`,
	).
		Report("time.Since($start) is evaluated at defer time; wrap the call in func()")
}

// JoinHostPort flags host:port built with Sprintf, which breaks on IPv6.
func JoinHostPort(m dsl.Matcher) {
	m.Match(
		`fmt.Sprintf("%s:%d", $host, $port)`,
		`fmt.Sprintf("%s:%s", $host, $port)`,
	).
		Report("use net.JoinHostPort for host:port")
}
