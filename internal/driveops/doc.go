// Package driveops is the glue between a loaded configuration and a usable
// drive. SessionFactory builds the remote chain, the node cache and the
// Drive from a config.Config; Session owns them until Close.
//
// TransferManager moves whole files between the local filesystem and the
// drive in chunks. Downloads land in a ".<name>.partial" file that later
// attempts resume from, then are renamed into place. Uploads resume from
// the offset the remote reports after an interruption. Each chunk step is
// retried with exponential backoff; a shared BandwidthLimiter caps the
// aggregate rate.
package driveops
