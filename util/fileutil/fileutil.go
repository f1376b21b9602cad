package fileutil

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// RegistryHome returns the absolute path to the dpn-registry root
// directory, which contains source, config and test files. You can
// set this explicitly by defining an environment variable called
// DPN_REGISTRY_HOME. Otherwise, this walks up from the current
// working directory to the first directory containing a go.mod
// file. If neither works, this returns an error.
func RegistryHome() (registryHome string, err error) {
	registryHome = os.Getenv("DPN_REGISTRY_HOME")
	if registryHome != "" {
		return filepath.Abs(registryHome)
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if FileExists(filepath.Join(dir, "go.mod")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("Cannot determine registry home because " +
		"DPN_REGISTRY_HOME is not set and no go.mod is above the working directory.")
}

// LoadRelativeFile reads the file at the specified path
// relative to DPN_REGISTRY_HOME and returns the contents as a byte array.
func LoadRelativeFile(relativePath string) ([]byte, error) {
	absPath, err := RelativeToAbsPath(relativePath)
	if err != nil {
		return nil, err
	}
	return ioutil.ReadFile(absPath)
}

// Converts a relative path within the registry directory tree
// to an absolute path.
func RelativeToAbsPath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return relativePath, nil
	}
	registryHome, err := RegistryHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(registryHome, relativePath), nil
}

// Returns true if the file at path exists, false if not.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil && os.IsNotExist(err) {
		return false
	}
	return true
}

// Expands the tilde in a directory path to the current
// user's home directory. For example, on Linux, ~/data
// would expand to something like /home/josie/data
func ExpandTilde(filePath string) (string, error) {
	if strings.Index(filePath, "~") < 0 {
		return filePath, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	homeDir := usr.HomeDir + "/"
	expandedDir := strings.Replace(filePath, "~/", homeDir, 1)
	return expandedDir, nil
}
