package b2

type authorizeAccountResponse struct {
	AccountID               string `json:"accountId"`
	AuthorizationToken      string `json:"authorizationToken"`
	APIURL                  string `json:"apiUrl"`
	DownloadURL             string `json:"downloadUrl"`
	RecommendedPartSize     int64  `json:"recommendedPartSize"`
	AbsoluteMinimumPartSize int64  `json:"absoluteMinimumPartSize"`
	Allowed                 struct {
		BucketID     string   `json:"bucketId"`
		BucketName   string   `json:"bucketName"`
		Capabilities []string `json:"capabilities"`
	} `json:"allowed"`
}

type listBucketsRequest struct {
	AccountID  string `json:"accountId"`
	BucketName string `json:"bucketName,omitempty"`
}

type bucket struct {
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
}

type listBucketsResponse struct {
	Buckets []bucket `json:"buckets"`
}

type startLargeFileRequest struct {
	BucketID    string `json:"bucketId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type fileResponse struct {
	FileID          string `json:"fileId"`
	FileName        string `json:"fileName"`
	ContentLength   int64  `json:"contentLength"`
	UploadTimestamp int64  `json:"uploadTimestamp"`
	Action          string `json:"action"`
}

type getUploadPartURLRequest struct {
	FileID string `json:"fileId"`
}

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

type uploadURLResponse struct {
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type finishLargeFileRequest struct {
	FileID        string   `json:"fileId"`
	PartSha1Array []string `json:"partSha1Array"`
}

type listFileNamesRequest struct {
	BucketID      string `json:"bucketId"`
	Prefix        string `json:"prefix,omitempty"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount"`
}

type listFileNamesResponse struct {
	Files        []fileResponse `json:"files"`
	NextFileName *string        `json:"nextFileName"`
}

type deleteFileVersionRequest struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
