// Package dac drives database export and import jobs on the SQL import/export
// (DAC) web service: it submits a job, polls its status until the service
// reports a terminal state and returns the outcome.
package dac

import "encoding/xml"

const (
	serviceTypesNS = "http://schemas.datacontract.org/2004/07/Microsoft.SqlServer.Management.Dac.ServiceTypes"
	schemaInstance = "http://www.w3.org/2001/XMLSchema-instance"

	accessKeyCredentialsType = "BlobStorageAccessKeyCredentials"
)

// Operation selects the submit endpoint of the service.
type Operation string

const (
	OperationExport Operation = "Export"
	OperationImport Operation = "Import"
)

// Server-reported states. Any value other than StatusCompleted and
// StatusFailed means the job is still running.
const (
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// ConnectionTarget identifies the database a job reads from or writes to.
type ConnectionTarget struct {
	ServerName   string
	DatabaseName string
	UserName     string
	Password     string
}

// StorageCredential identifies the bacpac blob and the key authorizing
// access to it.
type StorageCredential struct {
	AccessKey string
	BlobURI   string
}

type blobCredentials struct {
	Type             string `xml:"i:type,attr"`
	URI              string `xml:"Uri"`
	StorageAccessKey string `xml:"StorageAccessKey"`
}

type connectionInfo struct {
	DatabaseName string `xml:"DatabaseName"`
	Password     string `xml:"Password"`
	ServerName   string `xml:"ServerName"`
	UserName     string `xml:"UserName"`
}

// ExportInput is the submission envelope for POST /Export.
type ExportInput struct {
	XMLName         xml.Name        `xml:"http://schemas.datacontract.org/2004/07/Microsoft.SqlServer.Management.Dac.ServiceTypes ExportInput"`
	InstanceNS      string          `xml:"xmlns:i,attr"`
	BlobCredentials blobCredentials `xml:"BlobCredentials"`
	ConnectionInfo  connectionInfo  `xml:"ConnectionInfo"`
}

// ImportInput is the submission envelope for POST /Import.
type ImportInput struct {
	XMLName          xml.Name        `xml:"http://schemas.datacontract.org/2004/07/Microsoft.SqlServer.Management.Dac.ServiceTypes ImportInput"`
	InstanceNS       string          `xml:"xmlns:i,attr"`
	AzureEdition     string          `xml:"AzureEdition"`
	BlobCredentials  blobCredentials `xml:"BlobCredentials"`
	ConnectionInfo   connectionInfo  `xml:"ConnectionInfo"`
	DatabaseSizeInGB int             `xml:"DatabaseSizeInGB"`
}

func newBlobCredentials(cred StorageCredential) blobCredentials {
	return blobCredentials{
		Type:             accessKeyCredentialsType,
		URI:              cred.BlobURI,
		StorageAccessKey: cred.AccessKey,
	}
}

func newConnectionInfo(target ConnectionTarget) connectionInfo {
	return connectionInfo{
		DatabaseName: target.DatabaseName,
		Password:     target.Password,
		ServerName:   target.ServerName,
		UserName:     target.UserName,
	}
}

func NewExportInput(target ConnectionTarget, cred StorageCredential) *ExportInput {
	return &ExportInput{
		InstanceNS:      schemaInstance,
		BlobCredentials: newBlobCredentials(cred),
		ConnectionInfo:  newConnectionInfo(target),
	}
}

func NewImportInput(target ConnectionTarget, cred StorageCredential, edition string, sizeGB int) *ImportInput {
	return &ImportInput{
		InstanceNS:       schemaInstance,
		AzureEdition:     edition,
		BlobCredentials:  newBlobCredentials(cred),
		ConnectionInfo:   newConnectionInfo(target),
		DatabaseSizeInGB: sizeGB,
	}
}

// StatusInfo is one entry of the ArrayOfStatusInfo returned by GET /Status.
type StatusInfo struct {
	BlobURI          string `xml:"BlobUri"`
	DatabaseName     string `xml:"DatabaseName"`
	ErrorMessage     string `xml:"ErrorMessage"`
	LastModifiedTime string `xml:"LastModifiedTime"`
	QueuedTime       string `xml:"QueuedTime"`
	RequestID        string `xml:"RequestId"`
	RequestType      string `xml:"RequestType"`
	ServerName       string `xml:"ServerName"`
	Status           string `xml:"Status"`
}

func (s *StatusInfo) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type statusList struct {
	XMLName xml.Name     `xml:"ArrayOfStatusInfo"`
	Items   []StatusInfo `xml:"StatusInfo"`
}
