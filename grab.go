package main

// Fetching of file contents from the server.  Single revisions go out as
// one update request each; a changeset whose revisions share a revision
// number or sit in a tight time range is fetched in one batched request.

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rcowham/cvsgittransfer/cvs"
	"github.com/rcowham/cvsgittransfer/node"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"
)

// VersionSource - yields blob content for revisions, assigning marks as it
// goes.  The real implementation talks to the server; tests substitute
// their own.
type VersionSource interface {
	GrabVersions(fetch []*Version)
}

// CvsFetcher - fetches file revisions over a CVS connection and streams the
// blobs straight into the fast-import backend.
type CvsFetcher struct {
	logger   *logrus.Logger
	db       *Database
	conn     *cvs.Connection
	backend  *libfastimport.Backend
	archiver *Archiver // Optional
}

func (g *CvsFetcher) readVersion() {
	line := g.conn.Line
	if strings.HasPrefix(line, "Removed ") {
		// Removed line; we got the date a bit silly, just ignore it.
		g.conn.NextLine()
		return
	}
	if strings.HasPrefix(line, "Checked-in ") {
		// Update entry but no file change.  Hopefully this just means the
		// dates were screwed up somewhere.
		g.conn.NextLine()
		g.conn.NextLine()
		return
	}
	if !strings.HasPrefix(line, "Created ") &&
		!strings.HasPrefix(line, "Update-existing ") &&
		!strings.HasPrefix(line, "Updated ") {
		g.logger.Fatalf("Did not get Update line: '%s'", line)
	}

	// The directory part of the path after the module name.
	d := line[strings.IndexByte(line, ' ')+1:]
	if d == g.conn.Module || strings.HasPrefix(d, g.conn.Module+"/") {
		d = strings.TrimPrefix(d[len(g.conn.Module):], "/")
	}
	if d == "" || d == "." || d == "./" {
		d = ""
	} else {
		d = strings.TrimSuffix(d, "/") + "/"
	}

	g.conn.NextLine() // Skip the repo directory.

	entry := g.conn.NextLine()
	if !strings.HasPrefix(entry, "/") {
		g.logger.Fatalf("cvs checkout - doesn't look like entry line: '%s'", entry)
	}
	parts := strings.SplitN(entry[1:], "/", 3)
	if len(parts) < 3 {
		g.logger.Fatalf("cvs checkout - doesn't look like entry line: '%s'", entry)
	}
	path := d + parts[0]
	vers := parts[1]

	file := g.db.FindFile(path)
	if file == nil {
		g.logger.Fatalf("cvs checkout - got unknown file %s", path)
	}
	version := file.FindVersion(vers)
	if version == nil {
		g.logger.Fatalf("cvs checkout - got unknown file version %s %s", path, vers)
	}

	mode := g.conn.NextLine()
	if !strings.HasPrefix(mode, "u=") {
		g.logger.Fatalf("cvs checkout %s %s - got unexpected file mode '%s'", vers, path, mode)
	}
	version.Exec = strings.ContainsRune(mode, 'x')

	lenLine := g.conn.NextLine()
	length, err := strconv.Atoi(lenLine)
	if err != nil || length < 0 {
		g.logger.Fatalf("cvs checkout %s %s - got unexpected file length '%s'", vers, path, lenLine)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(g.conn, data); err != nil {
		g.logger.Fatalf("cvs checkout %s %s - %v", path, vers, err)
	}
	g.conn.RecordRead(length)
	g.conn.CountVersions++

	if version.Mark != 0 {
		// The earlier mark wins.
		g.logger.Warnf("cvs checkout %s %s - version is duplicate", path, vers)
		return
	}
	version.Mark = g.db.NextMark()
	g.backend.Do(libfastimport.CmdBlob{Mark: version.Mark, Data: string(data)})
	if g.archiver != nil {
		g.archiver.Save(path, vers, version.Mark, string(data))
	}
}

func (g *CvsFetcher) readVersions() {
	for {
		line := g.conn.NextLine()
		if strings.HasPrefix(line, "M ") || strings.HasPrefix(line, "MT ") {
			continue
		}
		if line == "ok" {
			return
		}
		g.readVersion()
	}
}

func (g *CvsFetcher) grabVersion(version *Version) {
	if version == nil || version.Mark != 0 {
		return
	}

	path := version.File.Path
	if slash := strings.LastIndexByte(path, '/'); slash >= 0 &&
		(version.Parent == nil || version.Parent.Mark == 0) {
		// Make sure the server knows the directory.
		g.conn.Printf("Directory %s/%s\n%s%s\n",
			g.conn.Module, path[:slash], g.conn.Prefix, path[:slash])
	}

	// Go to the main directory.
	g.conn.Printf("Directory %s\n%s\n",
		g.conn.Module, strings.TrimSuffix(g.conn.Prefix, "/"))

	g.conn.Printf("Argument -kk\n"+
		"Argument -r%s\n"+
		"Argument --\n"+
		"Argument %s\nupdate\n",
		version.Version, path)
	g.conn.CountTransactions++

	g.readVersions()

	if version.Mark == 0 {
		g.logger.Fatalf("cvs checkout - failed to get %s %s", path, version.Version)
	}
}

func (g *CvsFetcher) grabByOption(rArg string, dArg string, fetch []*Version) {
	// Frame every directory we are pulling from.
	tree := node.NewNode("")
	for _, v := range fetch {
		tree.AddFile(v.File.Path)
	}
	for _, dir := range tree.Directories() {
		g.conn.Printf("Directory %s/%s\n%s%s\n",
			g.conn.Module, dir, g.conn.Prefix, dir)
	}

	// Go to the main directory.
	g.conn.Printf("Directory %s\n%s\n",
		g.conn.Module, strings.TrimSuffix(g.conn.Prefix, "/"))

	if rArg != "" {
		g.conn.Printf("Argument -r%s\n", rArg)
	}
	if dArg != "" {
		g.conn.Printf("Argument -D%s\n", dArg)
	}
	g.conn.Printf("Argument -kk\nArgument --\n")

	paths := make([]string, 0, len(fetch))
	for _, v := range fetch {
		paths = append(paths, v.File.Path)
	}
	sort.Strings(paths)
	for _, p := range paths {
		g.conn.Printf("Argument %s\n", p)
	}
	g.conn.Printf("update\n")
	g.conn.CountTransactions++

	g.readVersions()
}

// GrabVersions - fetch a set of revisions, preferring one batched request
// when the set is coherent enough for the server to resolve it.
func (g *CvsFetcher) GrabVersions(fetch []*Version) {
	if len(fetch) == 0 {
		return
	}
	if len(fetch) == 1 {
		g.grabVersion(fetch[0])
		return
	}

	idver := true
	for _, v := range fetch[1:] {
		if v.Version != fetch[0].Version {
			idver = false
			break
		}
	}
	if idver {
		g.grabByOption(fetch[0].Version, "", fetch)
	} else {
		dmin, dmax := fetch[0].Time, fetch[0].Time
		for _, v := range fetch[1:] {
			if v.Time.Before(dmin) {
				dmin = v.Time
			} else if v.Time.After(dmax) {
				dmax = v.Time
			}
		}
		if dmax.Sub(dmin) < 300*time.Second {
			rArg := ""
			if fetch[0].Branch != nil {
				rArg = fetch[0].Branch.Tag.Name
			}
			g.grabByOption(rArg, dmax.UTC().Format("2 Jan 2006 15:04:05 -0000"), fetch)
		}
	}

	// Mop up anything the batch missed.
	for _, v := range fetch {
		if v.Mark == 0 {
			g.logger.Debugf("Missed first time round: %s %s", v.File.Path, v.Version)
			g.grabVersion(v)
		}
	}
}
