// Copyright 2024 dbsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package fsutil

import (
	"io"
	"os"
	"path"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// IsFileExists checks if file exists and is a regular file.
func IsFileExists(name string) bool {
	f, err := os.Stat(name)
	if err != nil {
		return false
	}
	return !f.IsDir()
}

// WriteFileAtomic writes file to temp and atomically moves it into place when
// everything else succeeds. A crash at any point leaves either the old file
// or the new one, never a torn write.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	dir, name := path.Dir(filename), path.Base(filename)
	f, err := os.CreateTemp(dir, name)
	if err != nil {
		return err
	}
	n, err := f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	f.Close()
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	} else if err == nil {
		err = os.Chmod(f.Name(), perm)
	}
	if err != nil {
		err2 := os.Remove(f.Name())
		if err2 != nil {
			log.Warn("failed to remove the temporary file",
				zap.String("filename", f.Name()),
				zap.Error(err2))
		}
		return err
	}
	return os.Rename(f.Name(), filename)
}
