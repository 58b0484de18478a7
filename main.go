package main

import (
	"fmt"
	"log"

	"tarn/btree"
	"tarn/buffer"
	"tarn/common"
	"tarn/disk"
)

func main() {
	dm, err := disk.NewDiskManager("tarn.db")
	if err != nil {
		log.Fatal(err)
	}
	defer dm.Close()

	pool := buffer.NewBufferPool(64, 2, dm)
	tree := btree.NewBPlusTree("demo", pool, &btree.Int64KeySerializer{}, 0, 0)

	for i := int64(1); i <= 1000; i++ {
		tree.Insert(btree.Int64Key(i), btree.RID{PageID: common.PageID(i), SlotNum: uint16(i % 100)})
	}

	if val, ok := tree.GetValue(btree.Int64Key(42)); ok {
		fmt.Printf("42 => %v\n", val)
	}

	n := 0
	for it := tree.Begin(); !it.IsEnd(); it.Next() {
		n++
	}
	fmt.Printf("scanned %v keys, tree height %v\n", n, tree.Height())

	pool.FlushAllPages()
}
