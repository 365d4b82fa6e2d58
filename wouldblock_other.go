//go:build !unix

package clamav

func isWouldBlock(error) bool { return false }
