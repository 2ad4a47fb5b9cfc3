package service

import (
	"context"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/yeisme/dedupvault/pkg/cache"
	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/errs"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/model"
	"github.com/yeisme/dedupvault/pkg/internal/storage/s3"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/types"
	nlog "github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/rule"
)

// UploadCachePrefix 上传会话在 KV 中的键前缀.
const UploadCachePrefix = "upload."

// UploadService 管理分片上传会话，完成时创建文件并入队唯一一个任务.
type UploadService struct {
	cfg      configs.UploadConfig
	prefix   string
	objects  s3.Store
	sessions *cache.Cache
	store    *store.Store
	queue    jobqueue.Queue
	notifier Notifier
	now      func() time.Time
}

// NewUploadService 创建上传服务，notifier 可以为 nil.
func NewUploadService(cfg configs.UploadConfig, objectPrefix string, objects s3.Store, sessions *cache.Cache,
	st *store.Store, q jobqueue.Queue, notifier Notifier,
) *UploadService {
	return &UploadService{
		cfg:      cfg,
		prefix:   objectPrefix,
		objects:  objects,
		sessions: sessions,
		store:    st,
		queue:    q,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock 替换时钟，测试使用.
func (s *UploadService) WithClock(now func() time.Time) *UploadService {
	s.now = now
	return s
}

func sessionKey(uploadID string) string { return "session." + uploadID }

func partKey(uploadID string, n int) string { return "part." + uploadID + "." + strconv.Itoa(n) }

func validate(req any) error {
	if err := rule.ValidateStruct(req); err != nil {
		if fields := rule.Errors(err); len(fields) > 0 {
			msgs := make([]string, 0, len(fields))
			for f, m := range fields {
				msgs = append(msgs, f+": "+m)
			}

			slices.Sort(msgs)

			return errs.Validation("%s", strings.Join(msgs, "; "))
		}

		return errs.Validation("%v", err)
	}

	return nil
}

// mediaCategory 只接受文档类与图片类内容.
func (s *UploadService) mediaCategory(contentType, filename string) (model.Category, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, unsupported := range []string{"video/", "audio/", "font/"} {
		if strings.HasPrefix(ct, unsupported) {
			return "", errs.Validation("unsupported media category %q", contentType)
		}
	}

	category := model.ClassifyCategory(contentType, filename)
	if len(s.cfg.AllowedCategories) > 0 && !slices.Contains(s.cfg.AllowedCategories, string(category)) {
		return "", errs.Validation("media category %s is not accepted", category)
	}

	return category, nil
}

// Initiate 校验文件名与类别后在对象存储上开始分片上传.
func (s *UploadService) Initiate(ctx context.Context, tenant string, req *types.InitiateUploadRequest) (*types.InitiateUploadResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	category, err := s.mediaCategory(req.ContentType, req.FileName)
	if err != nil {
		return nil, err
	}

	uploadID := model.NewULID()
	objectKey := path.Join(s.prefix, tenant, uploadID+"-"+req.FileName)

	s3UploadID, err := s.objects.CreateMultipartUpload(ctx, objectKey, req.ContentType)
	if err != nil {
		return nil, errs.External(err, "create multipart upload")
	}

	now := s.now().UTC()
	sess := types.UploadSession{
		UploadID:    uploadID,
		TenantID:    tenant,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Category:    category,
		ObjectKey:   objectKey,
		S3UploadID:  s3UploadID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
	}

	if err := cache.Set(ctx, s.sessions, sessionKey(uploadID), sess, s.retention()); err != nil {
		if aerr := s.objects.AbortMultipartUpload(ctx, objectKey, s3UploadID); aerr != nil {
			nlog.Logger().Warn().Err(aerr).Str("upload_id", uploadID).Str("object_key", objectKey).
				Msg("abort multipart upload after session store failure")
		}

		return nil, errs.External(err, "store upload session")
	}

	nlog.Logger().Info().Str("upload_id", uploadID).Str("tenant", tenant).Str("category", string(category)).
		Msg("upload initiated")

	return &types.InitiateUploadResponse{
		UploadID:  uploadID,
		ObjectKey: objectKey,
		ChunkSize: s.cfg.ChunkSize,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// retention 会话在 KV 中保留到过期后一段时间，以区分“已过期”与“不存在”.
func (s *UploadService) retention() time.Duration {
	return s.cfg.SessionTTL + s.cfg.SessionRetention
}

func (s *UploadService) session(ctx context.Context, tenant, uploadID string) (*types.UploadSession, error) {
	sess, err := cache.Get[types.UploadSession](ctx, s.sessions, sessionKey(uploadID))
	if err != nil {
		if cache.IsMiss(err) {
			return nil, errs.NotFound("upload session %s", uploadID)
		}

		return nil, errs.External(err, "load upload session")
	}

	if tenant != "" && sess.TenantID != tenant {
		return nil, errs.NotFound("upload session %s", uploadID)
	}

	return &sess, nil
}

func (s *UploadService) activeSession(ctx context.Context, tenant, uploadID, filename string) (*types.UploadSession, error) {
	sess, err := s.session(ctx, tenant, uploadID)
	if err != nil {
		return nil, err
	}

	if sess.Expired(s.now()) {
		return nil, errs.SessionExpired("upload session %s expired at %s", uploadID, sess.ExpiresAt.Format(time.RFC3339))
	}

	if filename != sess.FileName {
		return nil, errs.Validation("filename %q does not match upload session", filename)
	}

	return sess, nil
}

// AuthorizePart 为一个分片签发短期上传地址，分片可以乱序上传.
func (s *UploadService) AuthorizePart(ctx context.Context, tenant string, req *types.PresignPartRequest) (*types.PresignPartResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.PartNumber > s.cfg.MaxParts {
		return nil, errs.Validation("part_number must be between 1 and %d", s.cfg.MaxParts)
	}

	expiry := s.cfg.PresignDefaultExpiry
	if req.ExpiresInSecs > 0 {
		expiry = time.Duration(req.ExpiresInSecs) * time.Second
	}

	if expiry > s.cfg.PresignMaxExpiry {
		return nil, errs.Validation("expires_in_secs exceeds %d", int64(s.cfg.PresignMaxExpiry.Seconds()))
	}

	sess, err := s.activeSession(ctx, tenant, req.UploadID, req.FileName)
	if err != nil {
		return nil, err
	}

	url, err := s.objects.PresignUploadPart(ctx, sess.ObjectKey, sess.S3UploadID, req.PartNumber, expiry)
	if err != nil {
		return nil, errs.External(err, "presign part %d", req.PartNumber)
	}

	now := s.now().UTC()

	// 每个分片独立的键，并发授权不会互相覆盖
	rec := types.AuthorizedPart{PartNumber: req.PartNumber, AuthorizedAt: now}
	if err := cache.Set(ctx, s.sessions, partKey(sess.UploadID, req.PartNumber), rec, s.retention()); err != nil {
		return nil, errs.External(err, "record authorized part")
	}

	return &types.PresignPartResponse{PresignedURL: url, PartNumber: req.PartNumber, ExpiresAt: now.Add(expiry)}, nil
}

func (s *UploadService) authorizedParts(ctx context.Context, uploadID string) ([]int, error) {
	keys, err := s.sessions.Keys(ctx, "part."+uploadID+".*")
	if err != nil {
		return nil, errs.External(err, "list authorized parts")
	}

	parts := make([]int, 0, len(keys))

	for _, k := range keys {
		n, err := strconv.Atoi(k[strings.LastIndexByte(k, '.')+1:])
		if err == nil {
			parts = append(parts, n)
		}
	}

	slices.Sort(parts)

	return parts, nil
}

// checkParts 校验分片完整性：无重复、1..N 连续、覆盖所有已授权分片、标签与大小与对象存储一致.
func (s *UploadService) checkParts(ctx context.Context, sess *types.UploadSession, supplied []types.CompletedPart) ([]s3.Part, error) {
	if len(supplied) == 0 {
		return nil, errs.IncompleteUpload("no parts supplied")
	}

	byNumber := make(map[int]string, len(supplied))

	for _, p := range supplied {
		if p.PartNumber < 1 || p.PartNumber > s.cfg.MaxParts {
			return nil, errs.Validation("part_number %d out of range", p.PartNumber)
		}

		if _, dup := byNumber[p.PartNumber]; dup {
			return nil, errs.Validation("duplicate part number %d", p.PartNumber)
		}

		byNumber[p.PartNumber] = s3.NormalizeETag(p.ETag)
	}

	for n := 1; n <= len(supplied); n++ {
		if _, ok := byNumber[n]; !ok {
			return nil, errs.IncompleteUpload("missing part %d", n)
		}
	}

	authorized, err := s.authorizedParts(ctx, sess.UploadID)
	if err != nil {
		return nil, err
	}

	for _, n := range authorized {
		if _, ok := byNumber[n]; !ok {
			return nil, errs.IncompleteUpload("part %d was authorized but not supplied", n)
		}
	}

	listed, err := s.objects.ListParts(ctx, sess.ObjectKey, sess.S3UploadID)
	if err != nil {
		return nil, errs.External(err, "list uploaded parts")
	}

	stored := make(map[int]s3.Part, len(listed))
	for _, p := range listed {
		stored[p.PartNumber] = p
	}

	out := make([]s3.Part, 0, len(supplied))

	for n := 1; n <= len(supplied); n++ {
		p, ok := stored[n]
		if !ok {
			return nil, errs.IncompleteUpload("part %d has not been uploaded", n)
		}

		if s3.NormalizeETag(p.ETag) != byNumber[n] {
			return nil, errs.IncompleteUpload("content tag mismatch for part %d", n)
		}

		if n < len(supplied) && p.Size > s.cfg.ChunkSize {
			return nil, errs.Validation("part %d is %d bytes, chunk size is %d", n, p.Size, s.cfg.ChunkSize)
		}

		out = append(out, s3.Part{PartNumber: n, ETag: byNumber[n], Size: p.Size})
	}

	return out, nil
}

// Complete 合并对象，创建文件并入队任务，然后删除会话.
// 文件 ID 在合并之前写入会话，对象已合并而入库失败时，同一请求重试会跳过合并直接入库.
func (s *UploadService) Complete(ctx context.Context, tenant string, req *types.CompleteUploadRequest) (*types.CompleteUploadResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	sess, err := s.session(ctx, tenant, req.UploadID)
	if err != nil {
		return nil, err
	}

	if req.FileName != sess.FileName {
		return nil, errs.Validation("filename %q does not match upload session", req.FileName)
	}

	info, assembled, err := s.assembled(ctx, sess)
	if err != nil {
		return nil, err
	}

	if !assembled {
		if info, err = s.assemble(ctx, sess, req.Parts); err != nil {
			return nil, err
		}
	}

	job, err := s.persist(ctx, sess, info.Size)
	if err != nil {
		return nil, err
	}

	s.dropSession(ctx, sess.UploadID, len(req.Parts))

	if s.notifier != nil {
		s.notifier.JobChanged(ctx, job)
	}

	nlog.WithJob(job.ID, sess.FileID, sess.TenantID).Info().Str("upload_id", sess.UploadID).Int64("size", info.Size).
		Int("parts", len(req.Parts)).Bool("resumed", assembled).Msg("upload completed")

	return &types.CompleteUploadResponse{FileID: sess.FileID, JobID: job.ID, ObjectKey: sess.ObjectKey, Size: info.Size}, nil
}

// assembled 会话已分配文件 ID 且对象存在时，说明此前的 complete 已完成合并.
func (s *UploadService) assembled(ctx context.Context, sess *types.UploadSession) (s3.ObjectInfo, bool, error) {
	if sess.FileID == "" {
		return s3.ObjectInfo{}, false, nil
	}

	info, err := s.objects.Stat(ctx, sess.ObjectKey)

	switch {
	case err == nil:
		return info, true, nil
	case errors.Is(err, s3.ErrObjectNotFound):
		return s3.ObjectInfo{}, false, nil
	default:
		return s3.ObjectInfo{}, false, errs.External(err, "stat object %s", sess.ObjectKey)
	}
}

// assemble 校验分片，记下文件 ID 后合并对象.
func (s *UploadService) assemble(ctx context.Context, sess *types.UploadSession, supplied []types.CompletedPart) (s3.ObjectInfo, error) {
	now := s.now()
	if sess.Expired(now) {
		return s3.ObjectInfo{}, errs.SessionExpired("upload session %s expired at %s", sess.UploadID, sess.ExpiresAt.Format(time.RFC3339))
	}

	parts, err := s.checkParts(ctx, sess, supplied)
	if err != nil {
		return s3.ObjectInfo{}, err
	}

	if sess.FileID == "" {
		sess.FileID = model.NewID()

		ttl := sess.ExpiresAt.Add(s.cfg.SessionRetention).Sub(now)
		if err := cache.Set(ctx, s.sessions, sessionKey(sess.UploadID), *sess, ttl); err != nil {
			return s3.ObjectInfo{}, errs.External(err, "record file id on upload session")
		}
	}

	info, err := s.objects.CompleteMultipartUpload(ctx, sess.ObjectKey, sess.S3UploadID, parts)
	if err != nil {
		return s3.ObjectInfo{}, errs.External(err, "complete multipart upload")
	}

	return info, nil
}

// persist 创建文件与任务；文件已由之前的请求提交时返回它的任务.
func (s *UploadService) persist(ctx context.Context, sess *types.UploadSession, size int64) (*model.Job, error) {
	existing := func() (*model.Job, bool, error) {
		f, err := s.store.GetFile(ctx, sess.TenantID, sess.FileID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil, false, nil
		}

		if err != nil {
			return nil, false, err
		}

		job, _, err := s.queue.Enqueue(ctx, f.TenantID, f.ID)
		if err != nil {
			return nil, true, errors.Wrapf(err, "enqueue file %s", f.ID)
		}

		return job, true, nil
	}

	if job, found, err := existing(); found || err != nil {
		return job, err
	}

	job, err := s.queue.Submit(ctx, &model.File{
		ID:          sess.FileID,
		TenantID:    sess.TenantID,
		FileName:    sess.FileName,
		ObjectKey:   sess.ObjectKey,
		ContentType: sess.ContentType,
		Category:    sess.Category,
		Size:        size,
	})
	if err == nil {
		return job, nil
	}

	// 并发的重试可能先一步提交
	if job, found, ferr := existing(); found && ferr == nil {
		return job, nil
	}

	return nil, errors.Wrapf(err, "submit file %s", sess.FileID)
}

// Abort 放弃上传，已过期的会话也可以放弃.
func (s *UploadService) Abort(ctx context.Context, tenant, uploadID string) error {
	sess, err := s.session(ctx, tenant, uploadID)
	if err != nil {
		return err
	}

	if err := s.objects.AbortMultipartUpload(ctx, sess.ObjectKey, sess.S3UploadID); err != nil {
		return errs.External(err, "abort multipart upload")
	}

	s.dropSession(ctx, uploadID, 0)

	return nil
}

func (s *UploadService) dropSession(ctx context.Context, uploadID string, parts int) {
	keys := []string{sessionKey(uploadID)}

	authorized, err := s.authorizedParts(ctx, uploadID)
	if err == nil {
		for _, n := range authorized {
			keys = append(keys, partKey(uploadID, n))
		}
	} else {
		for n := 1; n <= parts; n++ {
			keys = append(keys, partKey(uploadID, n))
		}
	}

	for _, k := range keys {
		if err := s.sessions.Delete(ctx, k); err != nil {
			nlog.Logger().Warn().Err(err).Str("upload_id", uploadID).Str("key", k).Msg("failed to delete session key")
		}
	}
}

// CleanupExpired 放弃并删除已过期的会话，返回清理数量.
func (s *UploadService) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := s.sessions.Keys(ctx, "session.*")
	if err != nil {
		return 0, errs.External(err, "list upload sessions")
	}

	now := s.now()
	cleaned := 0

	for _, k := range keys {
		uploadID := strings.TrimPrefix(k, "session.")

		sess, err := s.session(ctx, "", uploadID)
		if err != nil || !sess.Expired(now) {
			continue
		}

		if handled, resumed := s.resume(ctx, sess); handled {
			if resumed {
				cleaned++
			}

			continue
		}

		if err := s.objects.AbortMultipartUpload(ctx, sess.ObjectKey, sess.S3UploadID); err != nil {
			nlog.Logger().Warn().Err(err).Str("upload_id", uploadID).Msg("abort expired upload failed")
			continue
		}

		s.dropSession(ctx, uploadID, 0)
		cleaned++
	}

	return cleaned, nil
}

// resume 对象已合并但文件未入库的过期会话，补建文件与任务而不是放弃上传.
// handled 为 true 时不能再放弃该上传.
func (s *UploadService) resume(ctx context.Context, sess *types.UploadSession) (handled, resumed bool) {
	info, assembled, err := s.assembled(ctx, sess)
	if err != nil {
		// 无法判断对象是否已合并，留到下一轮
		return sess.FileID != "", false
	}

	if !assembled {
		return false, false
	}

	logger := nlog.Logger().With().Str("upload_id", sess.UploadID).Str("file_id", sess.FileID).Logger()

	job, err := s.persist(ctx, sess, info.Size)
	if err != nil {
		logger.Warn().Err(err).Msg("resume assembled upload failed")
		return true, false
	}

	s.dropSession(ctx, sess.UploadID, 0)

	if s.notifier != nil {
		s.notifier.JobChanged(ctx, job)
	}

	logger.Info().Str("job_id", job.ID).Msg("assembled upload resumed")

	return true, true
}
