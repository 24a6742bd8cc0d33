// go-common local proxy functions

package ramfs

import (
	"github.com/rstms/go-common"
	"github.com/rstms/nextfs"
)

func Fatal(err error) error {
	return nextfs.Fatal(err)
}

func Fatalf(format string, args ...interface{}) error {
	return common.Fatalf(format, args...)
}
