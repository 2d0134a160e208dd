package main

// Parser for the output of the server's rlog command: one section per RCS
// file holding the symbolic names and every revision with its metadata and
// log message.

import (
	"strconv"
	"strings"
	"time"
)

const revBoundary = "M ----------------------------"
const fileBoundary = "M ============================================================================="

// LineSource - anything that yields response lines; the CVS connection and
// the test inputs both do.
type LineSource interface {
	NextLine() string
}

// parseCVSDate parses (YY|YYYY)[-/]MM[-/]DD HH:MM(:SS)?( (+|-)HH(MM)?)? into
// a Unix time plus the offset applied.
func parseCVSDate(date string) (time.Time, int, bool) {
	var zero time.Time
	fields := strings.Fields(date)
	if len(fields) < 2 || len(fields) > 3 {
		return zero, 0, false
	}
	d := strings.ReplaceAll(fields[0], "/", "-")
	dparts := strings.Split(d, "-")
	if len(dparts) != 3 {
		return zero, 0, false
	}
	year, err1 := strconv.Atoi(dparts[0])
	month, err2 := strconv.Atoi(dparts[1])
	day, err3 := strconv.Atoi(dparts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return zero, 0, false
	}
	if len(dparts[0]) <= 2 {
		year += 1900
	}
	if year >= 10000 || month < 1 || month > 12 || day < 1 || day > 31 {
		return zero, 0, false
	}

	tparts := strings.Split(fields[1], ":")
	if len(tparts) != 2 && len(tparts) != 3 {
		return zero, 0, false
	}
	hour, err1 := strconv.Atoi(tparts[0])
	min, err2 := strconv.Atoi(tparts[1])
	sec := 0
	var err3b error
	if len(tparts) == 3 {
		sec, err3b = strconv.Atoi(tparts[2])
	}
	if err1 != nil || err2 != nil || err3b != nil {
		return zero, 0, false
	}
	if hour < 0 || hour > 24 || min < 0 || min > 59 || sec < 0 || sec > 61 {
		return zero, 0, false
	}

	offset := 0
	if len(fields) == 3 {
		o := fields[2]
		if len(o) != 3 && len(o) != 5 {
			return zero, 0, false
		}
		sign := 1
		switch o[0] {
		case '+':
		case '-':
			sign = -1
		default:
			return zero, 0, false
		}
		oh, err := strconv.Atoi(o[1:3])
		if err != nil {
			return zero, 0, false
		}
		om := 0
		if len(o) == 5 {
			om, err = strconv.Atoi(o[3:5])
			if err != nil {
				return zero, 0, false
			}
		}
		offset = sign * (oh*3600 + om*60)
	}

	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	return t.Add(-time.Duration(offset) * time.Second), offset, true
}

func (db *Database) readFileVersion(f *File, src LineSource) string {
	line := src.NextLine()
	if !strings.HasPrefix(line, "M revision ") {
		db.logger.Fatalf("Log (%s) did not have expected 'revision' line: %s", f.RcsPath, line)
	}

	v := f.NewVersion()
	v.Version = line[len("M revision "):]
	if !validVersion(v.Version) {
		db.logger.Fatalf("Log (%s) has malformed version %s", f.RcsPath, v.Version)
	}

	haveDate := false
	haveAuthor := false
	stateNext := false
	authorNext := false
	commitidNext := false

	line = src.NextLine()
	for strings.HasPrefix(line, "MT ") {
		if strings.HasPrefix(line, "MT date ") {
			t, offset, ok := parseCVSDate(line[len("MT date "):])
			if !ok {
				db.logger.Fatalf("Log (%s) date line has unknown format: %s", f.RcsPath, line)
			}
			v.Time = t
			v.Offset = offset
			haveDate = true
		}
		if authorNext {
			if !strings.HasPrefix(line, "MT text ") {
				db.logger.Fatalf("Log (%s) author line is not text: %s", f.RcsPath, line)
			}
			v.Author = line[len("MT text "):]
			haveAuthor = true
			authorNext = false
		}
		if stateNext {
			if !strings.HasPrefix(line, "MT text ") {
				db.logger.Fatalf("Log (%s) state line is not text: %s", f.RcsPath, line)
			}
			v.Dead = strings.HasPrefix(line, "MT text dead")
			stateNext = false
		}
		if commitidNext {
			if !strings.HasPrefix(line, "MT text ") {
				db.logger.Fatalf("Log (%s) commitid line is not text: %s", f.RcsPath, line)
			}
			v.CommitID = line[len("MT text "):]
			commitidNext = false
		}
		if strings.HasSuffix(line, " author: ") {
			authorNext = true
		}
		if strings.HasSuffix(line, " state: ") {
			stateNext = true
		}
		if strings.HasSuffix(line, " commitid: ") {
			commitidNext = true
		}
		line = src.NextLine()
	}

	// The 'branches:' annotation is not wanted; the branch structure is
	// reconstructed from the revision numbers.
	if strings.HasPrefix(line, "M branches: ") {
		line = src.NextLine()
	}

	if !haveDate {
		db.logger.Fatalf("Log (%s) does not have date.", f.RcsPath)
	}
	if !haveAuthor {
		db.logger.Fatalf("Log (%s) does not have author.", f.RcsPath)
	}

	// Snarf the log entry.
	var log strings.Builder
	for line != revBoundary && line != fileBoundary {
		if line == "M" {
			log.WriteString("\n")
		} else {
			log.WriteString(line[2:])
			log.WriteString("\n")
		}
		line = src.NextLine()
	}
	v.Log = log.String()

	return line
}

// workingPath derives the working path of an RCS file from its archival
// path: strip the repository prefix and any Attic component.
func workingPath(rcsPath, prefix string) string {
	p := strings.TrimPrefix(rcsPath, prefix)
	p = strings.TrimPrefix(p, "/")
	if dir := strings.LastIndexByte(p, '/'); dir >= 0 {
		if strings.HasSuffix(p[:dir], "Attic") {
			d := strings.TrimSuffix(p[:dir], "Attic")
			p = strings.TrimSuffix(d, "/") + "/" + p[dir+1:]
			p = strings.TrimPrefix(p, "/")
		}
	}
	return p
}

func (db *Database) readFileVersions(src LineSource, prefix string, line string) {
	if !strings.HasPrefix(line, "M RCS file: /") {
		db.logger.Fatalf("Expected RCS file line, not %s", line)
	}
	if !strings.HasSuffix(line, ",v") {
		db.logger.Fatalf("RCS file name does not end with ',v': %s", line)
	}

	rcsPath := line[len("M RCS file: "):]
	rcsPath = rcsPath[:len(rcsPath)-2]
	f := db.NewFile(workingPath(rcsPath, prefix), rcsPath)

	for {
		line = src.NextLine()
		if !strings.HasPrefix(line, "M head:") &&
			!strings.HasPrefix(line, "M branch:") &&
			!strings.HasPrefix(line, "M locks:") &&
			!strings.HasPrefix(line, "M access list:") {
			break
		}
	}

	if !strings.HasPrefix(line, "M symbolic names:") {
		db.logger.Fatalf("Log (%s) did not have expected tag list: %s", f.RcsPath, line)
	}

	line = src.NextLine()
	for strings.HasPrefix(line, "M \t") {
		colon := strings.LastIndexByte(line, ':')
		if colon < 0 {
			db.logger.Fatalf("Tag on (%s) did not have version: %s", f.RcsPath, line)
		}
		tagName := line[len("M \t"):colon]
		vers := strings.TrimPrefix(line[colon+1:], " ")

		norm, tagType := normaliseTagVersion(vers)
		if tagType < 0 {
			db.logger.Fatalf("Tag %s on (%s) has bogus version '%s'", tagName, f.RcsPath, vers)
		}

		ft := f.NewFileTag()
		ft.Tag = db.GetTag(tagName)
		ft.Vers = norm
		ft.IsBranch = tagType == 1

		line = src.NextLine()
	}

	for strings.HasPrefix(line, "M keyword substitution:") ||
		strings.HasPrefix(line, "M total revisions:") {
		line = src.NextLine()
	}

	if !strings.HasPrefix(line, "M description:") {
		db.logger.Fatalf("Log (%s) did not have expected 'description' item: %s", f.RcsPath, line)
	}

	// Skip until a boundary.  Too bad if a description contains one of the
	// boundary strings.
	for line != revBoundary && line != fileBoundary {
		if !strings.HasPrefix(line, "M") {
			db.logger.Fatalf("Log (%s) description incorrectly terminated", f.RcsPath)
		}
		line = src.NextLine()
	}

	for line != fileBoundary {
		line = db.readFileVersion(f, src)
	}

	db.fillInVersionsAndParents(f)
}

// ParseRLog - read the whole rlog response into the database.  The prefix
// is the module's own directory in the repository, used to derive working
// paths from archival paths.
func (db *Database) ParseRLog(src LineSource, prefix string) {
	line := src.NextLine()
	for line != "ok" {
		if line == "M " || line == "M" {
			line = src.NextLine()
			continue
		}
		db.readFileVersions(src, prefix, line)
		line = src.NextLine()
	}
	db.Finalise()
}
