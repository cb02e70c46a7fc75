package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

type nodeKind int

const (
	nodeRoot nodeKind = iota
	nodeGroup
	nodeFile
	nodeError
)

type treeNode struct {
	name     string
	note     string
	kind     nodeKind
	children []*treeNode
}

func (n *treeNode) add(child *treeNode) *treeNode {
	n.children = append(n.children, child)
	return child
}

var (
	groupColor = color.New(color.FgBlue, color.Bold)
	fileColor  = color.New(color.FgWhite)
	noteColor  = color.New(color.FgGreen)
	errorColor = color.New(color.FgRed)
)

// printTree renders node and its children with box-drawing connectors.
// The root line is printed without a connector.
func printTree(w io.Writer, node *treeNode, prefix string, isLast bool) {
	if node.kind == nodeRoot {
		groupColor.Fprint(w, node.name)
		printNote(w, node)
		fmt.Fprintln(w)
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		fmt.Fprint(w, prefix, connector)
		switch node.kind {
		case nodeGroup:
			groupColor.Fprint(w, node.name)
		case nodeError:
			errorColor.Fprint(w, node.name)
		default:
			fileColor.Fprint(w, node.name)
		}
		printNote(w, node)
		fmt.Fprintln(w)

		if isLast {
			prefix += "    "
		} else {
			prefix += "│   "
		}
	}

	for i, child := range node.children {
		printTree(w, child, prefix, i == len(node.children)-1)
	}
}

func printNote(w io.Writer, node *treeNode) {
	if node.note == "" {
		return
	}
	fmt.Fprint(w, " ")
	if node.kind == nodeError {
		errorColor.Fprint(w, node.note)
		return
	}
	noteColor.Fprint(w, node.note)
}
