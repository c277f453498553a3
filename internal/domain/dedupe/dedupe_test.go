package dedupe_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/okian/realmhist/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestDeduper(t *testing.T) {
	Convey("Given a new deduper", t, func() {
		d := dedupe.New()

		Convey("When the key is new", func() {
			seen := d.SeenAndRecord("3:3")

			Convey("Then it should return false and record the key", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
				So(d.Duplicates(), ShouldEqual, 0)
			})
		})

		Convey("When the key was already seen", func() {
			d.SeenAndRecord("3:3")
			seen := d.SeenAndRecord("3:3")
			d.SeenAndRecord("3:3")

			Convey("Then it should return true and count every duplicate", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
				So(d.Duplicates(), ShouldEqual, 2)
				So(d.Sample(), ShouldResemble, []string{"3:3"})
			})
		})

		Convey("When a key is unrecorded", func() {
			d.SeenAndRecord("P1")
			d.Unrecord("P1")

			Convey("Then it is accepted again", func() {
				So(d.SeenAndRecord("P1"), ShouldBeFalse)
			})
		})
	})

	Convey("Given a deduper with a small sample", t, func() {
		d := dedupe.New(dedupe.WithSampleSize(2), dedupe.WithExpectedSize(16))
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("k%d", i)
			d.SeenAndRecord(key)
			d.SeenAndRecord(key)
		}

		Convey("Then the sample is bounded but the count is not", func() {
			So(d.Duplicates(), ShouldEqual, 5)
			So(d.Sample(), ShouldResemble, []string{"k0", "k1"})
		})
	})
}

func TestUnique(t *testing.T) {
	type row struct {
		key  string
		name string
	}

	Convey("Given a list with repeated keys", t, func() {
		rows := []row{{"a", "first"}, {"b", "b"}, {"a", "second"}, {"c", "c"}, {"b", "again"}}

		res := dedupe.Unique(rows, func(r row) string { return r.key })

		Convey("Then the first occurrence wins and order is kept", func() {
			So(res.Kept, ShouldResemble, []row{{"a", "first"}, {"b", "b"}, {"c", "c"}})
			So(res.Dropped, ShouldResemble, []row{{"a", "second"}, {"b", "again"}})
			So(res.Duplicates, ShouldResemble, []string{"a", "b"})
		})
	})

	Convey("Given an empty list", t, func() {
		res := dedupe.Unique([]row(nil), func(r row) string { return r.key })
		So(res.Kept, ShouldBeEmpty)
		So(res.Dropped, ShouldBeEmpty)
	})
}

func TestDeduperConcurrency(t *testing.T) {
	Convey("Given concurrent recorders of the same keys", t, func() {
		d := dedupe.New()
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(fmt.Sprintf("k%d", i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each key is new exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Duplicates(), ShouldEqual, 700)
		})
	})
}
