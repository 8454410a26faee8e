package domain

import "testing"

func TestChooseDelivery(t *testing.T) {
	const ceiling = TelegramUploadCeiling

	tests := []struct {
		name      string
		artifacts []Artifact
		want      DeliveryPath
	}{
		{
			name:      "single small file goes direct",
			artifacts: []Artifact{{Name: "a.mp3", Size: 5 << 20}},
			want:      DeliverDirect,
		},
		{
			name:      "single file one byte under ceiling goes direct",
			artifacts: []Artifact{{Name: "a.mp3", Size: ceiling - 1}},
			want:      DeliverDirect,
		},
		{
			name:      "single file at ceiling is archived",
			artifacts: []Artifact{{Name: "a.mp4", Size: ceiling}},
			want:      DeliverArchive,
		},
		{
			name:      "single oversized file is archived",
			artifacts: []Artifact{{Name: "a.mp4", Size: ceiling * 3}},
			want:      DeliverArchive,
		},
		{
			name: "multiple small files are archived",
			artifacts: []Artifact{
				{Name: "1.mp3", Size: 1 << 20},
				{Name: "2.mp3", Size: 1 << 20},
			},
			want: DeliverArchive,
		},
		{
			name:      "empty set is archived",
			artifacts: nil,
			want:      DeliverArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChooseDelivery(tt.artifacts, ceiling); got != tt.want {
				t.Errorf("ChooseDelivery() = %s, want %s", got, tt.want)
			}
		})
	}
}
