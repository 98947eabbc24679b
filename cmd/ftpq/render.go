package main

import (
	"fmt"
	"io"
	"io/fs"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	ftp "github.com/gonzalop/ftpclient"
)

var (
	dirColor  = color.New(color.FgBlue, color.Bold)
	linkColor = color.New(color.FgCyan)
	rawColor  = color.New(color.FgYellow)
)

func renderListing(w io.Writer, infos []fs.FileInfo) error {
	table := tablewriter.NewWriter(w)
	table.Header("Mode", "Size", "Modified", "Name")
	for _, info := range infos {
		if err := table.Append([]string{
			info.Mode().String(),
			formatSize(info),
			formatTime(info),
			formatName(info),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatSize(info fs.FileInfo) string {
	if info.IsDir() {
		return "-"
	}
	return humanize.IBytes(uint64(info.Size()))
}

// formatTime shows recent dates relative to now and older ones as dates.
// Entries without a time of day never get a relative form.
func formatTime(info fs.FileInfo) string {
	t := info.ModTime()
	if t.IsZero() {
		return ""
	}
	entry, _ := info.Sys().(*ftp.ListEntry)
	if entry != nil && entry.HasTime && time.Since(t).Abs() < 7*24*time.Hour {
		return humanize.Time(t)
	}
	return t.Format("2006-01-02")
}

func formatName(info fs.FileInfo) string {
	entry, _ := info.Sys().(*ftp.ListEntry)
	switch {
	case info.IsDir():
		return dirColor.Sprint(info.Name())
	case entry != nil && entry.Type == ftp.EntrySymlink:
		return linkColor.Sprint(info.Name()) + " -> " + entry.LinkTarget
	case entry != nil && entry.Format == ftp.FormatRaw:
		return rawColor.Sprint(info.Name())
	default:
		return info.Name()
	}
}

func renderMLSD(w io.Writer, entries []*ftp.MLEntry) error {
	table := tablewriter.NewWriter(w)
	table.Header("Type", "Size", "Modified", "Perm", "Name")
	for _, e := range entries {
		size := humanize.IBytes(uint64(e.Size))
		name := e.Name
		if e.IsDir() {
			size = "-"
			name = dirColor.Sprint(e.Name)
		}
		modified := ""
		if !e.ModTime.IsZero() {
			modified = e.ModTime.Format(time.DateTime)
		}
		if err := table.Append([]string{e.Type, size, modified, e.Perm, name}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderStat(w io.Writer, info fs.FileInfo) error {
	table := tablewriter.NewWriter(w)
	rows := [][]string{
		{"Name", info.Name()},
		{"Mode", info.Mode().String()},
		{"Size", fmt.Sprintf("%d (%s)", info.Size(), humanize.IBytes(uint64(info.Size())))},
	}
	if !info.ModTime().IsZero() {
		rows = append(rows, []string{"Modified", info.ModTime().Format(time.DateTime)})
	}
	if entry, ok := info.Sys().(*ftp.ListEntry); ok {
		rows = append(rows,
			[]string{"Type", entry.Type.String()},
			[]string{"Format", entry.Format.String()},
		)
		if entry.Owner != "" {
			rows = append(rows, []string{"Owner", entry.Owner + ":" + entry.Group})
		}
		if entry.LinkTarget != "" {
			rows = append(rows, []string{"Target", entry.LinkTarget})
		}
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderFeatures(w io.Writer, features map[string]string) error {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	slices.Sort(names)

	table := tablewriter.NewWriter(w)
	table.Header("Feature", "Parameters")
	for _, name := range names {
		if err := table.Append([]string{name, features[name]}); err != nil {
			return err
		}
	}
	return table.Render()
}

// progressSink forwards client progress reports to the bar of the running
// transfer.
type progressSink struct {
	out      io.Writer
	disabled bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// start opens a bar for a transfer of total bytes, or a spinner when total
// is unknown (-1).
func (p *progressSink) start(total int64, description string) {
	if p.disabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func (p *progressSink) update(pr ftp.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Set64(pr.Bytes)
	}
}

func (p *progressSink) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}
