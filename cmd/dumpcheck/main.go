package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole/utils"
)

func main() {
	file := flag.String("file", "", "memory dump written by DumpMemory")
	leaves := flag.Bool("leaves", false, "list leaf anchors")
	flag.Parse()
	if *file == "" {
		fmt.Println("-file is required")
		os.Exit(2)
	}

	mm, err := utils.MapFile(*file)
	if err != nil {
		fmt.Println("MAP:", err)
		os.Exit(1)
	}
	defer mm.Close()

	d, err := wormhole.ParseDump(mm.Data())
	if err != nil {
		fmt.Println("DUMP:", err)
		mm.Close()
		os.Exit(1)
	}
	fmt.Println("DUMP: OK")
	fmt.Printf("index:   %s (%s, v%s)\n", d.Meta.IndexID, d.Meta.Mode, d.Meta.Version)
	fmt.Printf("leaves:  %d (capacity %d)\n", d.Meta.Leaves, d.Meta.LeafCapacity)
	fmt.Printf("keys:    %d\n", d.Meta.Keys)
	fmt.Printf("epoch:   %d\n", d.Meta.Epoch)
	fmt.Printf("records: %t\n", !d.AnchorsOnly)
	fmt.Printf("blake3:  %x\n", d.Digest)
	if *leaves {
		for i, l := range d.Leaves {
			fmt.Printf("%6d %q %d\n", i, l.Anchor, l.Count)
		}
	}
}
