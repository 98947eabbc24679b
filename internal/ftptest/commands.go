package ftptest

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strconv"
	"strings"
)

// ModTime is the modification time reported for every file and directory.
const ModTime = "20240102030405"

// preAuth lists the verbs answered before login.
var preAuth = map[string]bool{
	"USER": true, "PASS": true, "FEAT": true, "QUIT": true,
	"NOOP": true, "SYST": true, "ABOR": true,
}

var builtin = map[string]Handler{
	"USER": func(s *Session, _ string) { s.Reply(331, "Password required") },
	"PASS": handlePass,
	"FEAT": handleFeat,
	"QUIT": func(s *Session, _ string) { s.Reply(221, "Goodbye") },
	"NOOP": func(s *Session, _ string) { s.Reply(200, "NOOP ok") },
	"SYST": func(s *Session, _ string) { s.Reply(215, "UNIX Type: L8") },
	"ABOR": func(s *Session, _ string) { s.Reply(225, "ABOR command successful") },
	"TYPE": func(s *Session, arg string) { s.Reply(200, "Type set to %s", arg) },
	"PASV": func(s *Session, _ string) { s.EnterPassive() },
	"PWD":  func(s *Session, _ string) { s.Reply(257, "%s is the current directory", quote(s.cwd)) },
	"CWD":  handleCwd,
	"LIST": handleList,
	"MLSD": handleMLSD,
	"RETR": handleRetr,
	"STOR": func(s *Session, arg string) { s.store(arg, false) },
	"APPE": func(s *Session, arg string) { s.store(arg, true) },
	"DELE": handleDele,
	"MKD":  handleMkd,
	"RMD":  handleRmd,
	"RNFR": handleRnfr,
	"RNTO": handleRnto,
	"SIZE": handleSize,
	"MDTM": handleMdtm,
	"REST": handleRest,
	"STAT": handleStat,
}

// quote renders a 257 path with embedded quotes doubled.
func quote(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func handlePass(s *Session, arg string) {
	s.srv.mu.Lock()
	want := s.srv.password
	s.srv.mu.Unlock()

	if want != "" && arg != want {
		s.Reply(530, "Login incorrect")
		return
	}
	s.authed = true
	s.Reply(230, "Login successful")
}

func handleFeat(s *Session, _ string) {
	s.srv.mu.Lock()
	features := slices.Clone(s.srv.features)
	s.srv.mu.Unlock()

	if len(features) == 0 {
		s.Reply(502, "FEAT not implemented")
		return
	}
	body := make([]string, len(features))
	for i, f := range features {
		body[i] = " " + f
	}
	s.Multi(211, "Features:", body, "End")
}

func handleCwd(s *Session, arg string) {
	p := s.Resolve(arg)
	if !s.srv.HasDir(p) {
		s.Reply(550, "%s: No such directory", arg)
		return
	}
	s.cwd = p
	s.Reply(250, "Directory changed to %s", p)
}

func handleList(s *Session, arg string) {
	text, ok := s.srv.listing(s.Resolve(arg))
	if !ok {
		s.closePassive()
		s.Reply(550, "%s: No such file or directory", arg)
		return
	}
	s.send([]byte(text))
}

func handleMLSD(s *Session, arg string) {
	p := s.Resolve(arg)
	if !s.srv.HasDir(p) {
		s.closePassive()
		s.Reply(550, "%s: No such directory", arg)
		return
	}
	var b strings.Builder
	for _, child := range s.srv.children(p) {
		if child.dir {
			fmt.Fprintf(&b, "type=dir;modify=%s; %s\r\n", ModTime, child.name)
		} else {
			fmt.Fprintf(&b, "type=file;size=%d;modify=%s; %s\r\n", child.size, ModTime, child.name)
		}
	}
	s.send([]byte(b.String()))
}

func handleRetr(s *Session, arg string) {
	content, ok := s.srv.File(s.Resolve(arg))
	if !ok {
		s.closePassive()
		s.Reply(550, "%s: No such file", arg)
		return
	}
	offset := min(s.restart, int64(len(content)))
	s.restart = 0
	s.send(content[offset:])
}

// send writes payload on the data connection, framed by 150 and 226.
func (s *Session) send(payload []byte) {
	if s.pasv == nil {
		s.Reply(425, "Use PASV first")
		return
	}
	s.Reply(150, "Opening data connection")
	conn, err := s.AcceptData()
	if err != nil {
		s.Reply(425, "Can't open data connection")
		return
	}
	_, err = conn.Write(payload)
	_ = conn.Close()
	if err != nil {
		s.Reply(426, "Connection closed; transfer aborted")
		return
	}
	s.Reply(226, "Transfer complete")
}

func (s *Session) store(arg string, appendData bool) {
	p := s.Resolve(arg)
	if !s.srv.HasDir(path.Dir(p)) {
		s.closePassive()
		s.Reply(553, "%s: No such directory", path.Dir(p))
		return
	}
	if s.pasv == nil {
		s.Reply(425, "Use PASV first")
		return
	}
	s.Reply(150, "Ok to send data")
	conn, err := s.AcceptData()
	if err != nil {
		s.Reply(425, "Can't open data connection")
		return
	}
	data, err := io.ReadAll(conn)
	_ = conn.Close()
	if err != nil {
		s.Reply(426, "Connection closed; transfer aborted")
		return
	}

	s.srv.mu.Lock()
	if appendData {
		data = append(slices.Clone(s.srv.files[p]), data...)
	}
	s.srv.files[p] = data
	s.srv.mu.Unlock()

	s.Reply(226, "Transfer complete")
}

func handleDele(s *Session, arg string) {
	p := s.Resolve(arg)
	s.srv.mu.Lock()
	_, ok := s.srv.files[p]
	delete(s.srv.files, p)
	s.srv.mu.Unlock()

	if !ok {
		s.Reply(550, "%s: No such file", arg)
		return
	}
	s.Reply(250, "Delete operation successful")
}

func handleMkd(s *Session, arg string) {
	p := s.Resolve(arg)
	s.srv.mu.Lock()
	_, isFile := s.srv.files[p]
	ok := s.srv.dirs[path.Dir(p)] && !s.srv.dirs[p] && !isFile
	if ok {
		s.srv.dirs[p] = true
	}
	s.srv.mu.Unlock()

	if !ok {
		s.Reply(550, "%s: Create directory operation failed", arg)
		return
	}
	s.Reply(257, "%s created", quote(p))
}

func handleRmd(s *Session, arg string) {
	p := s.Resolve(arg)
	if p == "/" || !s.srv.HasDir(p) || len(s.srv.children(p)) > 0 {
		s.Reply(550, "%s: Remove directory operation failed", arg)
		return
	}
	s.srv.mu.Lock()
	delete(s.srv.dirs, p)
	s.srv.mu.Unlock()
	s.Reply(250, "Remove directory operation successful")
}

func handleRnfr(s *Session, arg string) {
	p := s.Resolve(arg)
	s.srv.mu.Lock()
	_, isFile := s.srv.files[p]
	exists := isFile || s.srv.dirs[p]
	s.srv.mu.Unlock()

	if !exists {
		s.Reply(550, "%s: No such file or directory", arg)
		return
	}
	s.renameFrom = p
	s.Reply(350, "Ready for RNTO")
}

func handleRnto(s *Session, arg string) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		s.Reply(503, "RNFR required first")
		return
	}
	to := s.Resolve(arg)

	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	if content, ok := s.srv.files[from]; ok {
		delete(s.srv.files, from)
		s.srv.files[to] = content
	} else {
		for p, content := range s.srv.files {
			if rest, ok := strings.CutPrefix(p, from+"/"); ok {
				delete(s.srv.files, p)
				s.srv.files[path.Join(to, rest)] = content
			}
		}
		for p := range s.srv.dirs {
			if p == from {
				delete(s.srv.dirs, p)
				s.srv.dirs[to] = true
			} else if rest, ok := strings.CutPrefix(p, from+"/"); ok {
				delete(s.srv.dirs, p)
				s.srv.dirs[path.Join(to, rest)] = true
			}
		}
	}
	s.Reply(250, "Rename successful")
}

func handleSize(s *Session, arg string) {
	content, ok := s.srv.File(s.Resolve(arg))
	if !ok {
		s.Reply(550, "Could not get file size")
		return
	}
	s.Reply(213, "%d", len(content))
}

func handleMdtm(s *Session, arg string) {
	if _, ok := s.srv.File(s.Resolve(arg)); !ok {
		s.Reply(550, "Could not get file modification time")
		return
	}
	s.Reply(213, "%s", ModTime)
}

func handleRest(s *Session, arg string) {
	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.Reply(501, "Bad restart marker")
		return
	}
	s.restart = offset
	s.Reply(350, "Restarting at %d", offset)
}

func handleStat(s *Session, arg string) {
	if arg == "" {
		s.Multi(211, "ftptest status:", []string{" Logged in", " TYPE: BINARY"}, "End of status")
		return
	}
	text, ok := s.srv.listing(s.Resolve(arg))
	if !ok {
		s.Reply(450, "%s: No such file or directory", arg)
		return
	}
	lines := strings.Split(strings.TrimRight(text, "\r\n"), "\r\n")
	s.Multi(213, "Status of "+arg+":", lines, "End of status")
}

type child struct {
	name string
	dir  bool
	size int
}

// children lists the entries directly below dir, directories first.
func (s *Server) children(dir string) []child {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dirs, files []child
	for p := range s.dirs {
		if p != "/" && path.Dir(p) == dir {
			dirs = append(dirs, child{name: path.Base(p), dir: true})
		}
	}
	for p, content := range s.files {
		if path.Dir(p) == dir {
			files = append(files, child{name: path.Base(p), size: len(content)})
		}
	}
	byName := func(a, b child) int { return strings.Compare(a.name, b.name) }
	slices.SortFunc(dirs, byName)
	slices.SortFunc(files, byName)
	return append(dirs, files...)
}

// listing renders p in Unix long format, or returns the scripted text.
func (s *Server) listing(p string) (string, bool) {
	s.mu.Lock()
	text, scripted := s.listings[p]
	content, isFile := s.files[p]
	isDir := s.dirs[p]
	s.mu.Unlock()

	switch {
	case scripted:
		return text, true
	case isFile:
		return unixLine(child{name: path.Base(p), size: len(content)}), true
	case !isDir:
		return "", false
	}

	var b strings.Builder
	for _, c := range s.children(p) {
		b.WriteString(unixLine(c))
	}
	return b.String(), true
}

func unixLine(c child) string {
	if c.dir {
		return fmt.Sprintf("drwxr-xr-x    2 ftp      ftp             0 Jan 02  2024 %s\r\n", c.name)
	}
	return fmt.Sprintf("-rw-r--r--    1 ftp      ftp      %8d Jan 02  2024 %s\r\n", c.size, c.name)
}
