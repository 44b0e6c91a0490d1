package prioq

import (
	"fmt"
	"math"
)

func newIntQueue(maxOffset int64) *Queue[int, string] {
	less := func(a, b int) bool { return a < b }
	q, err := Create[int, string](maxOffset, 16, math.MinInt, math.MaxInt, less)
	if err != nil {
		panic(err)
	}
	return q
}

func ExampleQueue_Insert() {
	q := newIntQueue(4)
	defer q.Destroy()
	p := q.Register()
	defer q.Deregister(p)

	_ = q.Insert(p, 2, "two")
	_ = q.Insert(p, 1, "one")
	k, v, ok := q.DeleteMin(p)
	fmt.Println(k, v, ok)
	// Output: 1 one true
}

func ExampleQueue_DeleteMin_empty() {
	q := newIntQueue(4)
	defer q.Destroy()
	p := q.Register()
	defer q.Deregister(p)

	_, _, ok := q.DeleteMin(p)
	fmt.Println(ok)
	// Output: false
}

func ExampleQueue_Remove() {
	q := newIntQueue(4)
	defer q.Destroy()
	p := q.Register()
	defer q.Deregister(p)

	_ = q.Insert(p, 7, "seven")
	v, ok := q.Remove(p, 7)
	fmt.Println(v, ok)
	// Output: seven true
}
