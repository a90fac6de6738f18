package transfer

type TwitterUserResponse struct {
	Data TwitterUser `json:"data"`
}

type TwitterUser struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

type TwitterMediaInitRequest struct {
	MediaType     string `json:"media_type"`
	TotalBytes    int64  `json:"total_bytes"`
	MediaCategory string `json:"media_category"`
	Shared        bool   `json:"shared"`
}

type TwitterMediaResponse struct {
	Data TwitterMediaData `json:"data"`
}

type TwitterMediaData struct {
	ID               string                 `json:"id"`
	MediaKey         string                 `json:"media_key"`
	ExpiresAfterSecs int                    `json:"expires_after_secs"`
	ProcessingInfo   *TwitterProcessingInfo `json:"processing_info,omitempty"`
	Size             int64                  `json:"size,omitempty"`
}

type TwitterProcessingInfo struct {
	State           string `json:"state"`
	CheckAfterSecs  int    `json:"check_after_secs"`
	ProgressPercent int    `json:"progress_percent"`
}

type TwitterCreatePostRequest struct {
	Text  string            `json:"text,omitempty"`
	Media *TwitterPostMedia `json:"media,omitempty"`
}

type TwitterPostMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type TwitterCreatePostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type TwitterDeletePostResponse struct {
	Data struct {
		Deleted bool `json:"deleted"`
	} `json:"data"`
}
