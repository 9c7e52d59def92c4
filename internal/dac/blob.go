package dac

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and
// 1970-01-01 UTC.
const ticksAtUnixEpoch int64 = 621355968000000000

// TickSource hands out strictly increasing tick values derived from the
// wall clock, so blob names built from them never collide within a process.
type TickSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func NewTickSource(now func() time.Time) *TickSource {
	if now == nil {
		now = time.Now
	}
	return &TickSource{now: now}
}

// Next returns the current time in 100ns ticks since 0001-01-01 UTC, or
// last+1 when the clock has not advanced past the previous value.
func (s *TickSource) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC()
	ticks := ticksAtUnixEpoch + t.Unix()*10_000_000 + int64(t.Nanosecond())/100
	if ticks <= s.last {
		ticks = s.last + 1
	}
	s.last = ticks
	return ticks
}

var defaultTicks = NewTickSource(nil)

// BlobNaming expands blob URI templates. Recognized placeholders:
//
//	{endpoint}  blob service root, e.g. https://account.blob.core.windows.net
//	{storage}   storage account name
//	{container} backups container
//	{database}  database name
//	{ticks}     unique 100ns tick token
//	{timestamp} UTC time, 20060102-150405
type BlobNaming struct {
	Template  string
	Endpoint  string
	Storage   string
	Container string
	Ticks     *TickSource
}

// URI returns the blob URI for database. Every call yields a new tick token.
func (n BlobNaming) URI(database string) string {
	ticks := n.Ticks
	if ticks == nil {
		ticks = defaultTicks
	}
	return ExpandBlobURI(n.Template, map[string]string{
		"endpoint":  strings.TrimRight(n.Endpoint, "/"),
		"storage":   n.Storage,
		"container": n.Container,
		"database":  database,
	}, ticks)
}

// ExpandBlobURI substitutes {name} placeholders from values, plus {ticks}
// and {timestamp} drawn from ticks. Unknown placeholders are left as is.
func ExpandBlobURI(template string, values map[string]string, ticks *TickSource) string {
	t := ticks.Next()
	ts := time.Unix(0, (t-ticksAtUnixEpoch)*100).UTC().Format("20060102-150405")

	pairs := []string{"{ticks}", strconv.FormatInt(t, 10), "{timestamp}", ts}
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
