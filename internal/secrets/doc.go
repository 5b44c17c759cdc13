// Package secrets redacts credentials from text before it leaves the
// process. The diagnosis engine passes every prompt through a Redactor so
// log messages and source snippets never carry live secrets to the
// completion service.
package secrets
