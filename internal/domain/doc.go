// Package domain holds the value types shared by the import pipeline: the
// import job and its status, the property row and the batch message that
// travels through the broker.
//
// Nothing here touches the database, HTTP or the broker. Pure validation
// helpers on the types are fine.
package domain
