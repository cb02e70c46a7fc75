package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"autumn/modules/cache"
	"autumn/modules/config"
	"autumn/modules/glob"
	"autumn/modules/pipeline"
)

type PlanCmd struct{}

func (c *PlanCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	entries, err := cfg.PipelineEntries()
	if err != nil {
		return err
	}
	p := pipeline.New(entries, pipeline.WithResolver(glob.NewResolver(nil)))
	fmt.Println()
	printTree(os.Stdout, planTree(cfg.Path(), p.Entries(), p.Plan()), "", true)
	fmt.Println()
	return nil
}

// planTree groups tasks under their entry: entry, then source, then
// destination. Multi-source tasks list every source under one destination.
func planTree(title string, entries []pipeline.Entry, tasks []pipeline.Task) *treeNode {
	root := &treeNode{name: title, kind: nodeRoot, note: fmt.Sprintf("(%d entries, %d tasks)", len(entries), len(tasks))}

	byEntry := make(map[string]*treeNode, len(entries))
	for _, e := range entries {
		node := root.add(&treeNode{name: e.Name, kind: nodeGroup, note: "[" + string(e.Stage.Kind()) + "]"})
		byEntry[e.Name] = node
	}

	for _, t := range tasks {
		parent := byEntry[t.Entry]
		if parent == nil {
			continue
		}
		if len(t.Src) == 1 {
			src := parent.add(&treeNode{name: t.Src[0], kind: nodeFile})
			addDestination(src, t)
			continue
		}
		dst := addDestination(parent, t)
		for _, s := range t.Src {
			dst.add(&treeNode{name: s, kind: nodeFile})
		}
	}

	for _, n := range root.children {
		if len(n.children) == 0 {
			n.add(&treeNode{name: "no matching files", kind: nodeFile})
		}
	}
	return root
}

func addDestination(parent *treeNode, t pipeline.Task) *treeNode {
	if t.Err != nil {
		return parent.add(&treeNode{name: "-> " + t.Dst, kind: nodeError, note: t.Err.Error()})
	}
	return parent.add(&treeNode{name: "-> " + t.Dst, kind: nodeFile})
}

type ManifestCmd struct {
	Path string `arg:"" optional:"" help:"Manifest file. Defaults to build.manifest from the configuration."`
}

func (c *ManifestCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		cfg, err := g.load()
		if err != nil {
			return err
		}
		path = cfg.Build.Manifest
	}
	if path == "" {
		return fmt.Errorf("no manifest configured; set build.manifest in %s", config.Resolve(g.Config))
	}
	m, err := cache.Load(path)
	if err != nil {
		return err
	}
	fmt.Println()
	printManifest(os.Stdout, path, m)
	fmt.Println()
	return nil
}

func printManifest(w io.Writer, path string, m *cache.Manifest) {
	root := &treeNode{
		name: path,
		kind: nodeRoot,
		note: fmt.Sprintf("(%d outputs, digest %016x)", m.Len(), m.Digest()),
	}
	for _, e := range m.Entries() {
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		node := root.add(&treeNode{
			name: e.Path,
			kind: nodeGroup,
			note: fmt.Sprintf("%s %016x run %s at %s", formatSize(e.Size), e.Hash, run, e.Updated.Format(time.DateTime)),
		})
		for _, s := range e.Sources {
			node.add(&treeNode{name: s, kind: nodeFile})
		}
	}
	printTree(w, root, "", true)
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
