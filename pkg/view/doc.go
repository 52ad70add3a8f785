// Package view builds ranked numeric views over one cached JSON listing and
// answers top-N queries against them.
//
// A refresh fetches the listing through the proxy cache, converts every
// object into a Record (an identity plus one int64 per configured Spec) and
// replaces the snapshot in Redis in a single MULTI/EXEC transaction:
//
//	{root}/views/count   number of records
//	{root}/views/{i}     record i as JSON
//
// Refreshes are serialized across instances with the shared lock; an
// instance that finds the lock held skips its cycle.
package view
