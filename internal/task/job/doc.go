// Package job defines the unit of work executed by the worker pool.
//
// A job is anything implementing Invoker: closures via Func, or types with
// their own Invoke method. Registry provides string-keyed job types for
// settings-driven schedules.
package job
