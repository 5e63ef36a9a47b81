//go:build ruleguard

// Package gorules holds project-specific linter rules for ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// domainPackages return categorized errors so the API can map them to
// HTTP statuses.
const domainPackages = `/internal/(study|audit|auth|catalog|backup|secrets)$`

// CategorizedErrors flags plain fmt.Errorf returns in domain packages.
//
// Use the builder instead:
//
//	return errors.Newf("session %d not found", id).
//	    Component("study").
//	    Category(errors.CategoryNotFound).
//	    Build()
func CategorizedErrors(m dsl.Matcher) {
	m.Match(
		`return fmt.Errorf($*args)`,
		`return $*_, fmt.Errorf($*args)`,
	).
		Where(m.File().PkgPath.Matches(domainPackages)).
		Report("return a categorized error from internal/errors instead of fmt.Errorf")
}

// StructuredLogging flags the standard log package and stdout printing
// inside internal/.
func StructuredLogging(m dsl.Matcher) {
	m.Import("log")

	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
	).
		Where(m.File().PkgPath.Matches(`/internal/`)).
		Report("use the module logger from internal/logger")

	m.Match(
		`fmt.Printf($*_)`,
		`fmt.Println($*_)`,
	).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use the module logger from internal/logger")
}

// WaitGroupGo prefers sync.WaitGroup.Go over manual Add/Done pairs.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(
		`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`,
	).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body }) instead of Add/Done").
		Suggest("$wg.Go(func() { $body })")
}

// TimeFormatConstants prefers the named layouts over literal ones.
func TimeFormatConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02T15:04:05Z07:00")`).
		Report("use $t.Format(time.RFC3339)").
		Suggest("$t.Format(time.RFC3339)")

	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report("use $t.Format(time.DateTime)").
		Suggest("$t.Format(time.DateTime)")

	m.Match(`$t.Format("2006-01-02")`).
		Report("use $t.Format(time.DateOnly)").
		Suggest("$t.Format(time.DateOnly)")
}

// CaseOrderShuffling keeps permutation of case IDs inside internal/study.
func CaseOrderShuffling(m dsl.Matcher) {
	m.Match(`rand.Shuffle($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/study$`)).
		Report("case orders are generated by internal/study; call study.Shuffle instead")
}
