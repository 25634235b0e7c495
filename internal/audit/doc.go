// Package audit keeps a persistent history of registry changes in the
// audit_logs table. A Recorder subscribed to the registry writes one entry
// per added, removed or changed record; the API pages through them.
package audit
