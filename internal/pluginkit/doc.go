// Package pluginkit is the per-plugin context object over the cycle runtime.
//
// A Kit bundles the host, executor, logger and bus with a plugin-owned
// DelayedActions, Relay, snapshot listeners and wall-clock schedules.
// Everything a Kit creates is released by Disable, so a plugin that is
// disabled and enabled again starts from a clean slate.
package pluginkit
