//go:build !windows

package install

import "fmt"

// FixPermissions is a no-op outside Windows; git clones do not produce ACL
// lockouts on Unix filesystems.
func FixPermissions(dir string) error {
	return nil
}

// manualPermissionFix lists the commands to regain ownership of a directory.
func manualPermissionFix(dir string) []string {
	return []string{
		fmt.Sprintf("sudo chown -R $(id -un) %q", dir),
		fmt.Sprintf("chmod -R u+rwX %q", dir),
	}
}
