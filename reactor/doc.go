// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode event reactor abstraction (epoll on
// Linux) and KernelStack, the api.Stack used when no user-space stack is
// available.
package reactor
