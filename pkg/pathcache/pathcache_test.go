package pathcache

import (
	"fmt"
	"sync"
	"testing"

	. "github.com/weberc2/blockfs/pkg/types"
)

func TestCacheable(t *testing.T) {
	for _, testCase := range []struct {
		path   string
		wanted bool
	}{
		{"/a", true},
		{"/a/b/", true},
		{"/", false},
		{"//", false},
		{"/a/..", false},
		{"a/b", false},
		{"", false},
	} {
		if found := Cacheable(testCase.path); found != testCase.wanted {
			t.Errorf(
				"Cacheable(%q): wanted `%t`; found `%t`",
				testCase.path,
				testCase.wanted,
				found,
			)
		}
	}
}

func TestCache_InsertLookupRemove(t *testing.T) {
	c := New()

	if !c.Insert("/a/b", 7) {
		t.Fatal("Insert(): wanted `true`; found `false`")
	}
	if block, found := c.Lookup("/a/b"); !found || block != 7 {
		t.Fatalf("Lookup(): wanted `7, true`; found `%d, %t`", block, found)
	}

	// duplicates are refused without touching the entry
	if c.Insert("/a/b", 8) {
		t.Fatal("Insert(): wanted `false` for existing key; found `true`")
	}
	if block, _ := c.Lookup("/a/b"); block != 7 {
		t.Fatalf("Lookup(): wanted `7`; found `%d`", block)
	}

	if !c.Remove("/a/b") {
		t.Fatal("Remove(): wanted `true`; found `false`")
	}
	if _, found := c.Lookup("/a/b"); found {
		t.Fatal("Lookup(): wanted miss after Remove()")
	}
	if c.Remove("/a/b") {
		t.Fatal("Remove(): wanted `false` for absent key; found `true`")
	}
}

func TestCache_KeysCompareByValue(t *testing.T) {
	c := New()
	// built at runtime so the two strings never share storage
	key := fmt.Sprintf("/%s/%s", "dir", "file")
	c.Insert(key, 3)

	for _, p := range []string{"/dir/file", "/dir//file", "/dir/./file/", "/x/../dir/file"} {
		if block, found := c.Lookup(p); !found || block != 3 {
			t.Errorf("Lookup(%q): wanted `3, true`; found `%d, %t`", p, block, found)
		}
	}
}

func TestCache_RelativeAndRootIgnored(t *testing.T) {
	c := New()
	if c.Insert("a/b", 1) || c.Insert("/", 1) {
		t.Fatal("Insert(): wanted `false` for uncacheable paths")
	}
	if c.Len() != 0 {
		t.Fatalf("Len(): wanted `0`; found `%d`", c.Len())
	}
	if _, found := c.Lookup("a/b"); found {
		t.Fatal("Lookup(): wanted miss for relative path")
	}
}

func TestCache_RemoveTree(t *testing.T) {
	c := New()
	for i, p := range []string{"/a", "/a/b", "/a/b/c", "/ab", "/b"} {
		c.Insert(p, Block(i+1))
	}

	if removed := c.RemoveTree("/a"); removed != 3 {
		t.Fatalf("RemoveTree(): wanted `3`; found `%d`", removed)
	}
	for _, p := range []string{"/ab", "/b"} {
		if _, found := c.Lookup(p); !found {
			t.Fatalf("Lookup(%q): wanted hit", p)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len(): wanted `2`; found `%d`", c.Len())
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	inserted := make([]int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if c.Insert(fmt.Sprintf("/f%d", j), Block(i+1)) {
					inserted[i]++
				}
				c.Lookup(fmt.Sprintf("/f%d", j))
			}
		}(i)
	}
	wg.Wait()

	var total int
	for _, n := range inserted {
		total += n
	}
	if total != 100 || c.Len() != 100 {
		t.Fatalf(
			"Insert(): wanted each key inserted once; found `%d` inserts, `%d` keys",
			total,
			c.Len(),
		)
	}
}
