package ftp

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/transform"

	"github.com/gonzalop/ftpclient/internal/ratelimit"
)

// EntryType is the kind of file system object a listing line describes.
type EntryType int

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDirectory
	EntryBlock
	EntryChar
	EntrySymlink
	EntryFIFO
	EntrySocket
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDirectory:
		return "directory"
	case EntryBlock:
		return "block"
	case EntryChar:
		return "char"
	case EntrySymlink:
		return "symlink"
	case EntryFIFO:
		return "fifo"
	case EntrySocket:
		return "socket"
	default:
		return "unknown"
	}
}

// ListingFormat tells which parser produced a ListEntry.
type ListingFormat int

const (
	// FormatRaw marks a line no parser understood. Only Name and Raw are set.
	FormatRaw ListingFormat = iota
	FormatUnix
	FormatDOS
	FormatEPLF
)

func (f ListingFormat) String() string {
	switch f {
	case FormatUnix:
		return "unix"
	case FormatDOS:
		return "dos"
	case FormatEPLF:
		return "eplf"
	default:
		return "raw"
	}
}

// Rights holds the three permission groups of a Unix listing with dashes
// removed, so "r-x" becomes "rx".
type Rights struct {
	User  string
	Group string
	Other string
}

// ListEntry represents one line of a directory listing.
type ListEntry struct {
	Format ListingFormat
	Type   EntryType
	Rights Rights
	Links  int
	Owner  string
	Group  string
	Size   int64

	// Date is the modification time in UTC. HasTime is false when the
	// listing only carried a day ("Mon DD YYYY"); YearInferred is true when
	// it carried no year and the current year was assumed.
	Date         time.Time
	HasTime      bool
	YearInferred bool

	Name       string
	LinkTarget string // For symlinks, the target path

	// Raw is the listing line as received.
	Raw string
}

// IsDir reports whether the entry is a directory.
func (e *ListEntry) IsDir() bool {
	return e.Type == EntryDirectory
}

// ListingParser parses one directory listing line.
type ListingParser interface {
	Parse(line string) (*ListEntry, bool)
}

// UnixParser parses "ls -l" style lines:
//
//	-rw-r--r--   1 owner group   1234 Jan  1 12:00 file.txt
//	drwxr-xr-x   2 owner group      0 Jan  1  2010 olddir
//	lrwxrwxrwx   1 owner            7 Mar  3 09:10 latest -> v1.2.3
//
// The group column is optional.
type UnixParser struct {
	// Now decides the year of entries that only carry a time. It defaults
	// to time.Now.
	Now func() time.Time
}

func (p *UnixParser) Parse(line string) (*ListEntry, bool) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return parseUnixLine(line, now())
}

// DOSParser parses IIS style lines:
//
//	01-02-13  03:15PM                 4096 data.bin
//	09-24-24  10:30AM       <DIR>          logs
type DOSParser struct{}

func (p *DOSParser) Parse(line string) (*ListEntry, bool) {
	return parseDOSLine(line)
}

// EPLFParser parses Easily Parsed LIST Format lines such as
// "+i8388621.48594,m825718503,r,s280,\tdjb.html".
type EPLFParser struct{}

func (p *EPLFParser) Parse(line string) (*ListEntry, bool) {
	return parseEPLFLine(line)
}

// CompositeParser tries multiple parsers in order and falls back to a raw
// entry, so a listing never loses a line.
type CompositeParser struct {
	Parsers []ListingParser
	Logger  *slog.Logger
}

// Parse returns nil for lines that carry no entry (blank lines and the
// "total N" header of ls).
func (p *CompositeParser) Parse(line string) *ListEntry {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" || isTotalLine(line) {
		return nil
	}

	for _, parser := range p.Parsers {
		if entry, ok := parser.Parse(line); ok {
			return entry
		}
	}

	if p.Logger != nil {
		p.Logger.Debug("unable to parse listing line, keeping it raw", "raw", line)
	}
	return &ListEntry{
		Format: FormatRaw,
		Type:   EntryUnknown,
		Name:   strings.TrimSpace(line),
		Raw:    line,
	}
}

func defaultParsers() []ListingParser {
	return []ListingParser{
		&UnixParser{},
		&DOSParser{},
		&EPLFParser{},
	}
}

// replaceClock points every UnixParser at now.
func replaceClock(parsers []ListingParser, now func() time.Time) []ListingParser {
	out := make([]ListingParser, len(parsers))
	for i, p := range parsers {
		if _, ok := p.(*UnixParser); ok {
			p = &UnixParser{Now: now}
		}
		out[i] = p
	}
	return out
}

// ParseListing splits listing text into lines and parses each with the
// built-in parsers.
func ParseListing(text string) []*ListEntry {
	return parseListing(text, defaultParsers(), nil)
}

func parseListing(text string, parsers []ListingParser, logger *slog.Logger) []*ListEntry {
	parser := &CompositeParser{Parsers: parsers, Logger: logger}
	var entries []*ListEntry
	for line := range strings.SplitSeq(text, "\n") {
		if entry := parser.Parse(line); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries
}

func isTotalLine(line string) bool {
	rest, ok := strings.CutPrefix(line, "total ")
	if !ok {
		return false
	}
	_, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	return err == nil
}

// field is a whitespace separated token and its offset in the line, so the
// name column can be cut out of the original text with its spacing intact.
type field struct {
	text  string
	start int
}

func splitFields(line string, max int) []field {
	var fields []field
	i := 0
	for i < len(line) && len(fields) < max {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i == len(line) {
			break
		}
		start := i
		for i < len(line) && line[i] != ' ' && line[i] != '\t' {
			i++
		}
		fields = append(fields, field{text: line[start:i], start: start})
	}
	return fields
}

var unixTypes = map[byte]EntryType{
	'-': EntryFile,
	'd': EntryDirectory,
	'l': EntrySymlink,
	'b': EntryBlock,
	'c': EntryChar,
	'p': EntryFIFO,
	's': EntrySocket,
}

// parseUnixLine parses a Unix long format line. now supplies the year of
// entries listed with a time instead of a year.
func parseUnixLine(line string, now time.Time) (*ListEntry, bool) {
	fields := splitFields(line, 9)
	if len(fields) < 8 {
		return nil, false
	}

	perms := fields[0].text
	if len(perms) < 10 {
		return nil, false
	}
	typ, ok := unixTypes[perms[0]]
	if !ok || !validPermissions(perms[1:10]) {
		return nil, false
	}

	links, err := strconv.Atoi(fields[1].text)
	if err != nil {
		return nil, false
	}

	entry := &ListEntry{
		Format: FormatUnix,
		Type:   typ,
		Rights: Rights{
			User:  strings.ReplaceAll(perms[1:4], "-", ""),
			Group: strings.ReplaceAll(perms[4:7], "-", ""),
			Other: strings.ReplaceAll(perms[7:10], "-", ""),
		},
		Links: links,
		Owner: fields[2].text,
		Raw:   line,
	}

	// perms links owner group size month day time name, or the same
	// without group
	var rest []field
	switch {
	case len(fields) == 9 && parseUnixTail(entry, fields[4:], now):
		entry.Group = fields[3].text
		rest = fields[8:]
	case parseUnixTail(entry, fields[3:], now):
		rest = fields[7:]
	default:
		return nil, false
	}

	name := line[rest[0].start:]
	if before, after, ok := strings.Cut(name, " -> "); ok {
		entry.Type = EntrySymlink
		entry.Name = before
		entry.LinkTarget = after
	} else {
		entry.Name = name
	}
	return entry, entry.Name != ""
}

// parseUnixTail parses "size month day time-or-year" and requires a name
// field after them.
func parseUnixTail(entry *ListEntry, fields []field, now time.Time) bool {
	if len(fields) < 5 {
		return false
	}
	size, err := strconv.ParseInt(fields[0].text, 10, 64)
	if err != nil || size < 0 {
		return false
	}
	month, ok := parseMonth(fields[1].text)
	if !ok {
		return false
	}
	day, err := strconv.Atoi(fields[2].text)
	if err != nil || day < 1 || day > 31 {
		return false
	}

	stamp := fields[3].text
	if hh, mm, ok := strings.Cut(stamp, ":"); ok {
		hour, err1 := strconv.Atoi(hh)
		minute, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil || hour > 23 || minute > 59 {
			return false
		}
		entry.Date = time.Date(now.Year(), month, day, hour, minute, 0, 0, time.UTC)
		entry.HasTime = true
		entry.YearInferred = true
	} else {
		year, err := strconv.Atoi(stamp)
		if err != nil || len(stamp) != 4 {
			return false
		}
		entry.Date = time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}

	entry.Size = size
	return true
}

func validPermissions(s string) bool {
	for i := range len(s) {
		if !strings.ContainsRune("rwxsStTl-", rune(s[i])) {
			return false
		}
	}
	return true
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func parseMonth(s string) (time.Month, bool) {
	m, ok := months[strings.ToLower(s)]
	return m, ok
}

// parseDOSLine parses "MM-DD-YY HH:MMAM size-or-<DIR> name". Two digit
// years below 70 are taken as 20xx.
func parseDOSLine(line string) (*ListEntry, bool) {
	fields := splitFields(strings.TrimLeft(line, " "), 4)
	if len(fields) < 4 {
		return nil, false
	}
	offset := len(line) - len(strings.TrimLeft(line, " "))

	date, ok := parseDOSDate(fields[0].text)
	if !ok {
		return nil, false
	}
	hour, minute, ok := parseDOSTime(fields[1].text)
	if !ok {
		return nil, false
	}

	entry := &ListEntry{
		Format:  FormatDOS,
		Date:    time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC),
		HasTime: true,
		Name:    line[offset+fields[3].start:],
		Raw:     line,
	}

	if strings.EqualFold(fields[2].text, "<DIR>") {
		entry.Type = EntryDirectory
		return entry, true
	}
	size, err := strconv.ParseInt(fields[2].text, 10, 64)
	if err != nil || size < 0 {
		return nil, false
	}
	entry.Type = EntryFile
	entry.Size = size
	return entry, true
}

func parseDOSDate(s string) (time.Time, bool) {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return time.Time{}, false
	}

	var n [3]int
	for i, part := range parts {
		if part == "" || len(part) > 4 || (i < 2 && len(part) > 2) {
			return time.Time{}, false
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return time.Time{}, false
		}
		n[i] = v
	}

	month, day, year := n[0], n[1], n[2]
	switch len(parts[2]) {
	case 2:
		if year < 70 {
			year += 2000
		} else {
			year += 1900
		}
	case 4:
	default:
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// parseDOSTime converts "HH:MMAM" or "HH:MMPM" to 24-hour time. A time
// without suffix is taken as 24-hour already.
func parseDOSTime(s string) (int, int, bool) {
	upper := strings.ToUpper(s)
	clock, suffix := upper, ""
	if strings.HasSuffix(upper, "AM") || strings.HasSuffix(upper, "PM") {
		clock, suffix = upper[:len(upper)-2], upper[len(upper)-2:]
	}

	hh, mm, ok := strings.Cut(clock, ":")
	if !ok {
		return 0, 0, false
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}

	switch suffix {
	case "PM":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	case "AM":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour < 0 || hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

// parseEPLFLine parses "+facts\tname". Facts are comma separated: "/" marks
// a directory, "r" a retrievable file, "s" the size and "m" the mtime in
// Unix seconds.
func parseEPLFLine(line string) (*ListEntry, bool) {
	rest, ok := strings.CutPrefix(line, "+")
	if !ok {
		return nil, false
	}
	idx := strings.IndexAny(rest, "\t ")
	if idx < 0 {
		return nil, false
	}
	facts, name := rest[:idx], strings.TrimSpace(rest[idx+1:])
	if name == "" {
		return nil, false
	}

	entry := &ListEntry{
		Format: FormatEPLF,
		Type:   EntryUnknown,
		Name:   name,
		Raw:    line,
	}

	for fact := range strings.SplitSeq(facts, ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			entry.Type = EntryDirectory
		case 'r':
			if entry.Type == EntryUnknown {
				entry.Type = EntryFile
			}
		case 's':
			if size, err := strconv.ParseInt(fact[1:], 10, 64); err == nil && size >= 0 {
				entry.Size = size
			}
		case 'm':
			if secs, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				entry.Date = time.Unix(secs, 0).UTC()
				entry.HasTime = true
			}
		}
	}
	return entry, true
}

// readListing runs verb (LIST or MLSD) and returns the listing text,
// decoded with the listing encoding when one is set. Callers hold the
// sequence lock.
func (c *Client) readListing(verb, arg string) (string, error) {
	var buf bytes.Buffer
	_, err := c.transfer(verb, arg, Inbound, func(conn net.Conn, m *meter) error {
		var r io.Reader = &meteredReader{r: ratelimit.NewReader(conn, c.limiter), m: m}
		if c.encoding != nil {
			r = transform.NewReader(r, c.encoding.NewDecoder())
		}
		_, err := io.Copy(&buf, r)
		return err
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
