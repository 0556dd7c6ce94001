// Package middleware provides HTTP middleware for the control plane's API.
// This file validates the strings most likely to reach a shell or a
// container runtime unexamined: workspace-relative file paths, container
// image references, Kubernetes resource/namespace names, and CPU/memory
// resource quantities.
package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidateWorkspacePath rejects anything that could escape the session's
// workspace prefix (spec §9 Open Question 3: reject ".." and non-canonical
// separators; symlinks inside the prefix are not followed).
func ValidateWorkspacePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("null byte in path")
	}
	if path == ".." {
		return fmt.Errorf("path traversal attempt detected")
	}
	lower := strings.ToLower(path)
	traversal :=[]string{"../", "..\\", "/..", "\\..", "%2e%2e", "..%2f", "..%5c"}
	for _, pattern := range traversal {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("path traversal attempt detected")
		}
	}
	if strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return fmt.Errorf("path must be a relative, forward-slash separated workspace path")
	}
	return nil
}

// ValidateResourceName validates a Kubernetes-style resource name (RFC 1123 DNS label).
func ValidateResourceName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("resource name cannot be empty")
	}
	if len(name) > 253 {
		return fmt.Errorf("resource name too long (max 253 characters)")
	}
	validName := regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?(\.[a-z0-9]([-a-z0-9]*[a-z0-9])?)*$`)
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid resource name format (must be RFC 1123 DNS label)")
	}
	return nil
}

// ValidateNamespace validates a Kubernetes namespace and rejects the
// well-known system namespaces as session targets.
func ValidateNamespace(namespace string) error {
	if len(namespace) == 0 {
		return fmt.Errorf("namespace cannot be empty")
	}
	if len(namespace) > 63 {
		return fmt.Errorf("namespace too long (max 63 characters)")
	}
	validNamespace := regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	if !validNamespace.MatchString(namespace) {
		return fmt.Errorf("invalid namespace format")
	}
	reserved := []string{"kube-system", "kube-public", "kube-node-lease", "default"}
	for _, r := range reserved {
		if namespace == r {
			return fmt.Errorf("cannot use reserved namespace: %s", namespace)
		}
	}
	return nil
}

// ValidateContainerImage validates an image reference before it is ever
// passed to a runtime client.
func ValidateContainerImage(image string) error {
	if len(image) == 0 {
		return fmt.Errorf("image cannot be empty")
	}
	if len(image) > 1024 {
		return fmt.Errorf("image name too long")
	}
	validImage := regexp.MustCompile(`^[a-zA-Z0-9._/-]+(:[a-zA-Z0-9._-]+)?$`)
	if !validImage.MatchString(image) {
		return fmt.Errorf("invalid image format")
	}
	suspicious := []string{"../", "..\\", "$(", "`", ";", "|", "&"}
	for _, pattern := range suspicious {
		if strings.Contains(image, pattern) {
			return fmt.Errorf("suspicious pattern detected in image name")
		}
	}
	return nil
}

// ValidateResourceQuantity validates a Kubernetes-style CPU or memory quantity.
func ValidateResourceQuantity(quantity, resourceType string) error {
	if len(quantity) == 0 {
		return fmt.Errorf("resource quantity cannot be empty")
	}

	var validQuantity *regexp.Regexp
	switch resourceType {
	case "cpu":
		validQuantity = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?m?$`)
	case "memory", "disk":
		validQuantity = regexp.MustCompile(`^[0-9]+(Mi|Gi|Ti|Ki|M|G|T|K)?$`)
	default:
		return fmt.Errorf("unknown resource type: %s", resourceType)
	}

	if !validQuantity.MatchString(quantity) {
		return fmt.Errorf("invalid %s quantity format: %s", resourceType, quantity)
	}
	return nil
}
