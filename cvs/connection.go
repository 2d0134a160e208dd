package cvs

// Client side of the CVS server protocol: connect to a repository root,
// authenticate if needed, and exchange line-framed requests/responses.
// Supported roots:
//   :pserver:[user@]host[:port]/path  - TCP with pserver authentication
//   :ext:[user@]host/path             - CVS_RSH (default ssh) subprocess
//   user@host:/path                   - same as :ext:
//   :fake:prog:arg:/path              - arbitrary subprocess (for testing)
//   /path                             - fork a local "cvs server"

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

type Connection struct {
	logger     *logrus.Logger
	stream     io.Writer
	reader     *bufio.Reader
	closers    []io.Closer
	RemoteRoot string
	Module     string
	Prefix     string
	Line       string // Most recent response line

	logIn  *os.File // Taps set from CVS_CLIENT_LOG
	logOut *os.File

	CountVersions     int
	CountTransactions int
}

// pserverPassword looks the root up in ~/.cvspass; "A" is the scrambled
// empty password.
func pserverPassword(logger *logrus.Logger, root string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Fatalf("Cannot get home directory: %v", err)
	}
	content, err := os.ReadFile(home + "/.cvspass")
	if err != nil {
		return "A"
	}
	for _, line := range strings.Split(string(content), "\n") {
		l := strings.TrimPrefix(line, "/1 ")
		if strings.HasPrefix(l, root+" ") {
			return l[len(root)+1:]
		}
	}
	return "A"
}

func (c *Connection) connectToPserver(root string) {
	hostPart := root[len(":pserver:"):]
	slash := strings.IndexByte(hostPart, '/')
	if slash < 0 {
		c.logger.Fatalf("No path in CVS root '%s'", root)
	}
	c.RemoteRoot = hostPart[slash:]
	host := hostPart[:slash]

	user := ""
	if at := strings.IndexByte(host, '@'); at >= 0 {
		user = host[:at]
		host = host[at+1:]
	} else {
		user = os.Getenv("USER")
		if user == "" {
			c.logger.Fatalf("Cannot determine user-name for '%s'", root)
		}
	}
	port := "2401"
	if colon := strings.IndexByte(host, ':'); colon >= 0 {
		port = host[colon+1:]
		host = host[:colon]
	}

	c.logger.Infof("Pserver '%s'@'%s':'%s' '%s'", user, host, port, c.RemoteRoot)
	conn, err := net.Dial("tcp", net.JoinHostPort(host, port))
	if err != nil {
		c.logger.Fatalf("Could not connect to server %s:%s: %v", host, port, err)
	}
	c.stream = conn
	c.reader = bufio.NewReader(conn)
	c.closers = append(c.closers, conn)

	password := pserverPassword(c.logger, root)
	c.Printf("BEGIN AUTH REQUEST\n%s\n%s\n%s\nEND AUTH REQUEST\n",
		c.RemoteRoot, user, password)

	c.NextLine()
	if c.Line != "I LOVE YOU" {
		c.logger.Fatalf("Failed to login: '%s'", c.Line)
	}
	c.logger.Infof("Logged in successfully")
}

func (c *Connection) connectToProgram(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.logger.Fatalf("pipe to %s failed: %v", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.logger.Fatalf("pipe from %s failed: %v", name, err)
	}
	if err := cmd.Start(); err != nil {
		c.logger.Fatalf("starting %s failed: %v", name, err)
	}
	c.stream = stdin
	c.reader = bufio.NewReader(stdout)
	c.closers = append(c.closers, stdin)
}

func (c *Connection) connectToExt(root string, path string) {
	program := os.Getenv("CVS_RSH")
	if program == "" {
		program = "ssh"
	}
	slash := strings.IndexByte(path, '/')
	if slash < 0 {
		c.logger.Fatalf("Root '%s' has no remote root.", root)
	}
	host := strings.TrimSuffix(path[:slash], ":")
	c.RemoteRoot = path[slash:]
	c.connectToProgram(program, host, "cvs", "server")
}

func (c *Connection) connectToFake(root string) {
	rest := root[len(":fake:"):]
	colon1 := strings.IndexByte(rest, ':')
	if colon1 < 0 {
		c.logger.Fatalf("Root '%s' has no remote root", root)
	}
	colon2 := strings.IndexByte(rest[colon1+1:], ':')
	if colon2 < 0 {
		c.logger.Fatalf("Root '%s' has no remote root", root)
	}
	colon2 += colon1 + 1
	c.RemoteRoot = rest[colon2+1:]
	c.connectToProgram(rest[:colon1], rest[colon1+1:colon2])
}

// Connect establishes a connection to the CVS root and completes the
// protocol preamble.
func Connect(logger *logrus.Logger, root string) *Connection {
	c := &Connection{logger: logger}

	if clientLog := os.Getenv("CVS_CLIENT_LOG"); clientLog != "" {
		c.logIn, _ = os.Create(clientLog + ".in")
		c.logOut, _ = os.Create(clientLog + ".out")
	}

	switch {
	case strings.HasPrefix(root, ":pserver:"):
		c.connectToPserver(root)
	case strings.HasPrefix(root, ":fake:"):
		c.connectToFake(root)
	case strings.HasPrefix(root, ":ext:"):
		c.connectToExt(root, root[5:])
	case root[0] != '/' && strings.ContainsRune(root, ':'):
		c.connectToExt(root, root)
	default:
		c.RemoteRoot = root
		c.connectToProgram("cvs", "server")
	}

	c.Printf("Root %s\n"+

		"Valid-responses ok error Valid-requests Checked-in New-entry "+
		"Checksum Copy-file Updated Created Update-existing Merged "+
		"Patched Rcs-diff Mode Removed Remove-entry "+
		"Template Notified Module-expansion "+
		"Wrapper-rcsOption M Mbinary E F MT\n"+

		"valid-requests\n"+
		"UseUnchanged\n",
		c.RemoteRoot)

	c.NextLine()
	if !strings.HasPrefix(c.Line, "Valid-requests ") {
		c.logger.Fatalf("Did not get valid requests ('%s')", c.Line)
	}
	c.logger.Debugf("%s", c.Line)

	c.NextLine()
	if c.Line != "ok" {
		c.logger.Fatalf("Did not get 'ok'!")
	}

	return c
}

func (c *Connection) nextLineRaw() string {
	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.logger.Fatalf("Unexpected EOF from server: %v", err)
	}
	line = strings.TrimSuffix(line, "\n")
	if strings.ContainsRune(line, 0) {
		c.logger.Fatalf("Got line containing ASCII NUL from server.")
	}
	if c.logOut != nil {
		fmt.Fprintf(c.logOut, "%s\n", line)
	}
	return line
}

// NextLine reads the next response line, passing E diagnostics to the log.
func (c *Connection) NextLine() string {
	for {
		line := c.nextLineRaw()
		if strings.HasPrefix(line, "E ") {
			c.logger.Warnf("cvs: %s", line[2:])
		} else if line == "F" {
			continue
		} else {
			c.Line = line
			return line
		}
	}
}

// Printf sends a request to the server.
func (c *Connection) Printf(format string, a ...interface{}) {
	if c.logIn != nil {
		fmt.Fprintf(c.logIn, format, a...)
	}
	if _, err := fmt.Fprintf(c.stream, format, a...); err != nil {
		c.logger.Fatalf("Writing to cvs connection: %v", err)
	}
}

// Read pulls raw content bytes, used for file data following a length line.
func (c *Connection) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// RecordRead notes that file data went past the line reader.
func (c *Connection) RecordRead(bytes int) {
	if c.logOut != nil {
		fmt.Fprintf(c.logOut, "[%d bytes of data]\n", bytes)
	}
}

func (c *Connection) Close() {
	for _, cl := range c.closers {
		cl.Close()
	}
	if c.logIn != nil {
		c.logIn.Close()
	}
	if c.logOut != nil {
		c.logOut.Close()
	}
}
