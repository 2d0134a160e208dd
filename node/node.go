package node

import "strings"

// Node - tree structure recording a set of file paths.
// Used when batching checkout requests to a CVS server: the protocol wants a
// Directory line per distinct directory ahead of the file arguments, and the
// tree gives us each directory exactly once.
type Node struct {
	Name     string
	Path     string
	IsFile   bool
	Children []*Node
}

func NewNode(name string) *Node {
	return &Node{Name: name}
}

func (n *Node) addSubFile(fullPath string, subPath string) {
	parts := strings.Split(subPath, "/")
	if len(parts) == 1 {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				return // file already registered
			}
		}
		n.Children = append(n.Children, &Node{Name: parts[0], IsFile: true, Path: fullPath})
	} else {
		for _, c := range n.Children {
			if c.Name == parts[0] {
				c.addSubFile(fullPath, strings.Join(parts[1:], "/"))
				return
			}
		}
		c := &Node{Name: parts[0]}
		n.Children = append(n.Children, c)
		c.addSubFile(fullPath, strings.Join(parts[1:], "/"))
	}
}

func (n *Node) AddFile(path string) {
	n.addSubFile(path, path)
}

// Files returns every file registered under the node.
func (n *Node) Files() []string {
	files := make([]string, 0)
	for _, c := range n.Children {
		if c.IsFile {
			files = append(files, c.Path)
		} else {
			files = append(files, c.Files()...)
		}
	}
	return files
}

func (n *Node) subDirectories(prefix string) []string {
	dirs := make([]string, 0)
	for _, c := range n.Children {
		if c.IsFile {
			continue
		}
		d := c.Name
		if prefix != "" {
			d = prefix + "/" + c.Name
		}
		dirs = append(dirs, d)
		dirs = append(dirs, c.subDirectories(d)...)
	}
	return dirs
}

// Directories returns each distinct directory containing a registered file,
// in depth-first order, not including the root.
func (n *Node) Directories() []string {
	return n.subDirectories("")
}
